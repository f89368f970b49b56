package database

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type Habit string

const (
	HabitSleep        Habit = "sleep"
	HabitTraining     Habit = "training"
	HabitDeepWork     Habit = "deep_work"
	HabitSkill        Habit = "skill"
	HabitZeroIncident Habit = "zero_incident"
	HabitBoundaries   Habit = "boundaries"
)

var HabitNames = map[Habit]string{
	HabitSleep:        "😴 Сон",
	HabitTraining:     "🏃 Тренировка",
	HabitDeepWork:     "🧠 Глубокая работа",
	HabitSkill:        "📚 Навык",
	HabitZeroIncident: "🚫 Без срывов",
	HabitBoundaries:   "🛡 Границы",
}

// CheckIn - одна ежедневная отметка пользователя
type CheckIn struct {
	ID               int64     `db:"id" json:"id"`
	UserID           int64     `db:"user_id" json:"user_id"`
	Date             string    `db:"date" json:"date"`
	SleepMet         bool      `db:"sleep_met" json:"sleep_met"`
	Trained          bool      `db:"trained" json:"trained"`
	DeepWorkMet      bool      `db:"deep_work_met" json:"deep_work_met"`
	SkillMet         bool      `db:"skill_met" json:"skill_met"`
	ZeroIncident     bool      `db:"zero_incident" json:"zero_incident"`
	BoundariesHeld   bool      `db:"boundaries_held" json:"boundaries_held"`
	Compliance       int       `db:"compliance" json:"compliance"` // 0-100
	Rating           *int      `db:"rating" json:"rating,omitempty"`
	SleepHours       *float64  `db:"sleep_hours" json:"sleep_hours,omitempty"`
	ConsumptionHours *float64  `db:"consumption_hours" json:"consumption_hours,omitempty"`
	WakeDriftMinutes *int      `db:"wake_drift_minutes" json:"wake_drift_minutes,omitempty"`
	Obstacles        string    `db:"obstacles" json:"obstacles,omitempty"`
	TomorrowPlan     string    `db:"tomorrow_plan" json:"tomorrow_plan,omitempty"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// CorrectionWindowDays - на сколько дней назад отметку ещё можно внести или исправить
const CorrectionWindowDays = 2

// Compliance считает процент выполненных обязательных привычек
func Compliance(c CheckIn) int {
	flags := []bool{c.SleepMet, c.Trained, c.DeepWorkMet, c.SkillMet, c.ZeroIncident, c.BoundariesHeld}
	met := 0
	for _, f := range flags {
		if f {
			met++
		}
	}
	return (met*100 + len(flags)/2) / len(flags)
}

type User struct {
	ID           int64     `db:"id" json:"id"`
	ChatID       int64     `db:"chat_id" json:"chat_id"`
	Name         string    `db:"name" json:"name"`
	Email        string    `db:"email" json:"email,omitempty"`
	PeerID       *int64    `db:"peer_id" json:"peer_id,omitempty"`
	Shields      int       `db:"shields" json:"shields"`
	StreakDays   int       `db:"streak_days" json:"streak_days"`
	BestStreak   int       `db:"best_streak" json:"best_streak"`
	LastCheckIn  string    `db:"last_checkin" json:"last_checkin,omitempty"`
	LastIncident string    `db:"last_incident" json:"last_incident,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

type UserRef struct {
	ID          int64  `db:"id" json:"id"`
	LastCheckIn string `db:"last_checkin" json:"last_checkin"`
}

type Peer struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	ChatID int64  `json:"chat_id"`
	Email  string `json:"email,omitempty"`
}

// UserMeta - лёгкие метаданные пользователя для детекторов и шаблонов
type UserMeta struct {
	UserID       int64  `json:"user_id"`
	Name         string `json:"name"`
	ChatID       int64  `json:"chat_id"`
	Email        string `json:"email,omitempty"`
	StreakDays   int    `json:"streak_days"`
	BestStreak   int    `json:"best_streak"`
	Shields      int    `json:"shields"`
	LastCheckIn  string `json:"last_checkin,omitempty"`
	LastIncident string `json:"last_incident,omitempty"`
	Peer         *Peer  `json:"peer,omitempty"`
}

type PatternType string

const (
	PatternAbsence                  PatternType = "absence"
	PatternSleepDegradation         PatternType = "sleep_degradation"
	PatternTrainingAbandonment      PatternType = "training_abandonment"
	PatternComplianceDecline        PatternType = "compliance_decline"
	PatternDeepWorkCollapse         PatternType = "deep_work_collapse"
	PatternConsumptionVortex        PatternType = "consumption_vortex"
	PatternRelationshipInterference PatternType = "relationship_interference"
	PatternIncidentRelapse          PatternType = "incident_relapse"
	PatternWakeTimeDrift            PatternType = "wake_time_drift"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"

	// Лестница пропусков
	SeverityNudge     Severity = "nudge"
	SeverityWarning   Severity = "warning"
	SeverityEmergency Severity = "emergency"
)

// Ранги сравниваются только внутри одного типа паттерна:
// low < medium < high < critical и nudge < warning < critical < emergency.
var severityRanks = map[Severity]int{
	SeverityLow:       1,
	SeverityNudge:     1,
	SeverityMedium:    2,
	SeverityWarning:   2,
	SeverityHigh:      3,
	SeverityCritical:  4,
	SeverityEmergency: 5,
}

func (s Severity) Rank() int {
	return severityRanks[s]
}

type PatternStatus string

const (
	StatusOpen     PatternStatus = "open"
	StatusResolved PatternStatus = "resolved"
)

// Evidence - конкретные значения, на которых сработал детектор
type Evidence struct {
	Summary string             `json:"summary"`
	Dates   []string           `json:"dates,omitempty"`
	Values  map[string]float64 `json:"values,omitempty"`
}

func (e Evidence) Value() (driver.Value, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func (e *Evidence) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*e = Evidence{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("evidence: неподдерживаемый тип %T", src)
	}
	return json.Unmarshal(raw, e)
}

type Pattern struct {
	ID         string        `db:"id" json:"id"`
	UserID     int64         `db:"user_id" json:"user_id"`
	Type       PatternType   `db:"type" json:"type"`
	Severity   Severity      `db:"severity" json:"severity"`
	Evidence   Evidence      `db:"evidence" json:"evidence"`
	Status     PatternStatus `db:"status" json:"status"`
	DetectedAt time.Time     `db:"detected_at" json:"detected_at"`
	UpdatedAt  time.Time     `db:"updated_at" json:"updated_at"`
	ResolvedAt *time.Time    `db:"resolved_at" json:"resolved_at,omitempty"`
}

type GenerationMethod string

const (
	MethodTemplate              GenerationMethod = "template"
	MethodGenerated             GenerationMethod = "generated"
	MethodGeneratedWithFallback GenerationMethod = "generated_with_fallback"
)

type DeliveryTarget string

const (
	TargetUser        DeliveryTarget = "user"
	TargetUserAndPeer DeliveryTarget = "user_and_peer"
)

type DeliveryStatus string

const (
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
	DeliveryNone      DeliveryStatus = ""
)

// Intervention - одно отправленное (или попытка) сообщение по паттерну. После записи не меняется.
type Intervention struct {
	ID          string           `db:"id" json:"id"`
	PatternID   string           `db:"pattern_id" json:"pattern_id"`
	UserID      int64            `db:"user_id" json:"user_id"`
	PatternType PatternType      `db:"type" json:"type"`
	Severity    Severity         `db:"severity" json:"severity"`
	Text        string           `db:"text" json:"text"`
	PeerText    string           `db:"peer_text" json:"peer_text,omitempty"`
	Method      GenerationMethod `db:"method" json:"method"`
	Target      DeliveryTarget   `db:"target" json:"target"`
	UserStatus  DeliveryStatus   `db:"user_status" json:"user_status"`
	PeerStatus  DeliveryStatus   `db:"peer_status" json:"peer_status,omitempty"`
	UserError   string           `db:"user_error" json:"user_error,omitempty"`
	PeerError   string           `db:"peer_error" json:"peer_error,omitempty"`
	SentAt      time.Time        `db:"sent_at" json:"sent_at"`
}
