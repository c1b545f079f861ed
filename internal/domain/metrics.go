package domain

import "time"

// Metrics is the observation surface the infra components report into.
type Metrics interface {
	ObserveInvoke(serverID, tool string, duration time.Duration, err error)
	ObserveSessionState(serverID string, state SessionState)
	ObserveCatalogSize(count int)
	ObserveSynthesisLatency(provider, model string, duration time.Duration)
	ObserveSynthesisTokens(provider, model string, tokens int)
	ObserveAttempt(accepted bool)
	ObserveRun(accepted bool, attempts int)
}

// NopMetrics discards every observation.
type NopMetrics struct{}

func (NopMetrics) ObserveInvoke(string, string, time.Duration, error)       {}
func (NopMetrics) ObserveSessionState(string, SessionState)                 {}
func (NopMetrics) ObserveCatalogSize(int)                                   {}
func (NopMetrics) ObserveSynthesisLatency(string, string, time.Duration)    {}
func (NopMetrics) ObserveSynthesisTokens(string, string, int)               {}
func (NopMetrics) ObserveAttempt(bool)                                      {}
func (NopMetrics) ObserveRun(bool, int)                                     {}
