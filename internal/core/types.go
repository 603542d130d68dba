package core

import "herdcore/pkg/domain"

type (
	Animal             = domain.Animal
	Event              = domain.ReproductiveEvent
	EventType          = domain.EventType
	ReproductiveStatus = domain.ReproductiveStatus
	Change             = domain.Change
	Violation          = domain.Violation
	Result             = domain.Result
	RulesEngine        = domain.RulesEngine
	RuleViolationError = domain.RuleViolationError
	PersistentStore    = domain.PersistentStore
	Transaction        = domain.Transaction
	TransactionView    = domain.TransactionView
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)
