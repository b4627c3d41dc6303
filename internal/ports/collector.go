package ports

import "github.com/ghalamif/RailFlow/internal/domain"

// Collector pushes acoustic levels into out until stopped.
type Collector interface {
	Start(out chan<- domain.Level) error
	Stop() error
}
