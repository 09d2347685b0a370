package notify

import "modkit/services/mods"

// Multi fans every report out to each notifier in order.
type Multi []mods.Notifier

func (m Multi) ReportProgress(progress float64, label string) {
	for _, n := range m {
		n.ReportProgress(progress, label)
	}
}

func (m Multi) ReportError(message string) {
	for _, n := range m {
		n.ReportError(message)
	}
}

func (m Multi) ReportSuccess(message string) {
	for _, n := range m {
		n.ReportSuccess(message)
	}
}
