package models

// StepResult 同步中某一步的计数；每个 error 是一个错误单元
type StepResult struct {
	RecordsSynced int
	Errors        []error
}

// AddError 记录一个错误单元
func (r *StepResult) AddError(err error) {
	if err != nil {
		r.Errors = append(r.Errors, err)
	}
}

// Merge 合并另一步的结果
func (r *StepResult) Merge(other StepResult) {
	r.RecordsSynced += other.RecordsSynced
	r.Errors = append(r.Errors, other.Errors...)
}
