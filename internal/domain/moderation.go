package domain

// Trigger описывает инициатора перехода модерации.
type Trigger string

const (
	// TriggerModerator — ручное решение модератора.
	TriggerModerator Trigger = "moderator"
	// TriggerAutoFlag — автоматическая пометка по жалобам.
	TriggerAutoFlag Trigger = "auto_flag"
	// TriggerAutoApprove — автоматическое одобрение публикаций проверенных источников.
	TriggerAutoApprove Trigger = "auto_approve"
	// TriggerAdminOverride — административное вмешательство, всегда журналируется.
	TriggerAdminOverride Trigger = "admin_override"
)

// Valid сообщает, входит ли инициатор в закрытый перечень.
func (t Trigger) Valid() bool {
	switch t {
	case TriggerModerator, TriggerAutoFlag, TriggerAutoApprove, TriggerAdminOverride:
		return true
	}
	return false
}

// TransitionSubject описывает объект модерации на момент перехода.
type TransitionSubject struct {
	Status      ModerationStatus
	IsDuplicate bool
	Archived    bool
}

var allowedTransitions = map[Trigger]map[ModerationStatus][]ModerationStatus{
	TriggerModerator: {
		StatusPending: {StatusApproved, StatusRejected, StatusFlagged},
		StatusFlagged: {StatusApproved, StatusRejected},
	},
	TriggerAutoFlag: {
		StatusPending:  {StatusFlagged},
		StatusApproved: {StatusFlagged},
	},
	TriggerAutoApprove: {
		StatusPending: {StatusApproved},
	},
}

// ValidateTransition проверяет переход модерации. Архивные объекты не меняются ни одним инициатором,
// дубликаты одобряет только администратор.
func ValidateTransition(subject TransitionSubject, to ModerationStatus, trigger Trigger) error {
	from := subject.Status
	if !trigger.Valid() {
		return Validationf("неизвестный инициатор %q", trigger)
	}
	if !to.Valid() {
		return Validationf("неизвестный статус %q", to)
	}
	if subject.Archived {
		return &TransitionError{From: from, To: to, Trigger: trigger, Reason: "объект в архиве"}
	}
	if trigger == TriggerAdminOverride {
		return nil
	}
	if subject.IsDuplicate && to == StatusApproved {
		return &TransitionError{From: from, To: to, Trigger: trigger, Reason: "дубликат не может быть одобрен"}
	}
	for _, allowed := range allowedTransitions[trigger][from] {
		if allowed == to {
			return nil
		}
	}
	return &TransitionError{From: from, To: to, Trigger: trigger}
}
