package service

import "time"

// SetClock replaces the time source of a service built by this package.
func SetClock(svc any, now func() time.Time) {
	switch s := svc.(type) {
	case *stockLedger:
		s.now = now
	case *reservationManager:
		s.now = now
	case *cashService:
		s.now = now
	case *saleService:
		s.now = now
	}
}

var ClassifyDiscrepancy = classifyDiscrepancy
