package detector

import (
	"time"

	"pillars-watch/internal/database"
	"pillars-watch/internal/utils"
)

// DetectFunc - чистая функция над окном отметок. Возвращает false, если паттерна нет
// или истории недостаточно для вывода.
type DetectFunc func(window []database.CheckIn, meta database.UserMeta) (database.Pattern, bool)

type Detector struct {
	Type database.PatternType
	// Days - длина окна в календарных днях, заканчивающегося сегодняшней датой
	Days   int
	Detect DetectFunc
}

type Registry struct {
	detectors []Detector
}

func NewRegistry(detectors ...Detector) *Registry {
	return &Registry{detectors: detectors}
}

// DefaultRegistry - набор контентных детекторов в порядке вызова
func DefaultRegistry() *Registry {
	return NewRegistry(
		Detector{Type: database.PatternSleepDegradation, Days: ShortWindowDays, Detect: SleepDegradation},
		Detector{Type: database.PatternTrainingAbandonment, Days: ShortWindowDays, Detect: TrainingAbandonment},
		Detector{Type: database.PatternComplianceDecline, Days: ShortWindowDays, Detect: ComplianceDecline},
		Detector{Type: database.PatternDeepWorkCollapse, Days: ShortWindowDays, Detect: DeepWorkCollapse},
		Detector{Type: database.PatternConsumptionVortex, Days: ShortWindowDays, Detect: ConsumptionVortex},
		Detector{Type: database.PatternRelationshipInterference, Days: CorrelationWindowDays, Detect: RelationshipInterference},
		Detector{Type: database.PatternIncidentRelapse, Days: ShortWindowDays, Detect: IncidentRelapse},
		Detector{Type: database.PatternWakeTimeDrift, Days: ShortWindowDays, Detect: WakeTimeDrift},
	)
}

// MaxDays - самое длинное окно среди детекторов; столько дней нужно загрузить
func (r *Registry) MaxDays() int {
	max := 0
	for _, d := range r.detectors {
		if d.Days > max {
			max = d.Days
		}
	}
	return max
}

// DetectAll прогоняет все детекторы по окну, обрезанному под каждый из них.
// window должен быть отсортирован по дате; today - сегодняшняя дата в локальном календаре.
func (r *Registry) DetectAll(window []database.CheckIn, meta database.UserMeta, today string, now time.Time) []database.Pattern {
	var found []database.Pattern
	for _, d := range r.detectors {
		p, ok := d.Detect(trailing(window, today, d.Days), meta)
		if !ok {
			continue
		}
		p.UserID = meta.UserID
		p.Type = d.Type
		p.Severity = SeverityFor(d.Type)
		p.Status = database.StatusOpen
		p.DetectedAt = now
		found = append(found, p)
	}
	return found
}

// trailing оставляет отметки за последние days дней включая today
func trailing(window []database.CheckIn, today string, days int) []database.CheckIn {
	since, err := utils.AddDays(today, -(days - 1))
	if err != nil {
		return nil
	}
	for i, c := range window {
		if c.Date >= since {
			out := window[i:]
			for j, c := range out {
				if c.Date > today {
					return out[:j]
				}
			}
			return out
		}
	}
	return nil
}
