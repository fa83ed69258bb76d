package drastic

import "go.uber.org/zap"

// Progress is one milestone pushed to a Reporter.
type Progress struct {
	RunID   string `json:"run_id"`
	Stage   string `json:"stage"`
	Percent int    `json:"percent"`
	Message string `json:"message,omitempty"`
}

// Reporter receives coarse progress milestones, one per finished stage.
type Reporter interface {
	Report(p Progress)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(Progress)

// Report calls f(p).
func (f ReporterFunc) Report(p Progress) { f(p) }

// LogReporter writes milestones to the global logger.
type LogReporter struct{}

// Report logs p at info level.
func (LogReporter) Report(p Progress) {
	zap.L().Info("drastic: progress",
		zap.String("run_id", p.RunID),
		zap.String("stage", p.Stage),
		zap.Int("percent", p.Percent),
		zap.String("message", p.Message),
	)
}

type multiReporter []Reporter

func (m multiReporter) Report(p Progress) {
	for _, r := range m {
		r.Report(p)
	}
}
