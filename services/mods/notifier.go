package mods

// Notifier receives fire-and-forget status updates for a user-facing surface.
type Notifier interface {
	ReportProgress(progress float64, label string)
	ReportError(message string)
	ReportSuccess(message string)
}

// NopNotifier discards every report.
type NopNotifier struct{}

func (NopNotifier) ReportProgress(float64, string) {}
func (NopNotifier) ReportError(string)             {}
func (NopNotifier) ReportSuccess(string)           {}
