package stats

import "github.com/stretchr/testify/mock"

type MockUpdater struct {
	mock.Mock
}

func (m *MockUpdater) Incr(name string) {
	m.Called(name)
}
func (m *MockUpdater) Decr(name string) {
	m.Called(name)
}
func (m *MockUpdater) RegisterMetric(name string) {
	m.Called(name)
}

// NopUpdater discards all stats. Handy for tests that don't assert
// on metrics.
type NopUpdater struct{}

func (NopUpdater) Incr(string)           {}
func (NopUpdater) Decr(string)           {}
func (NopUpdater) RegisterMetric(string) {}
