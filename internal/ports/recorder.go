package ports

const (
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomeNotFound = "not_found"
	OutcomeSkipped  = "skipped"
)

type Recorder interface {
	ObserveCapture(outcome string, files int)
	ObserveRestore(outcome string, attempted int, failed int)
	ObserveSync(outcome string)
	ObserveAutoSave(outcome string)
}

type NopRecorder struct{}

func (NopRecorder) ObserveCapture(string, int)      {}
func (NopRecorder) ObserveRestore(string, int, int) {}
func (NopRecorder) ObserveSync(string)              {}
func (NopRecorder) ObserveAutoSave(string)          {}
