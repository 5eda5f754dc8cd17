package mocks

import "github.com/tidehq/tide/pkg/runner"
import "github.com/stretchr/testify/mock"

// Runner mock
type Runner struct {
	mock.Mock
}

// TypeName provides a mock function with given fields:
func (_m *Runner) TypeName() string {
	ret := _m.Called()

	var r0 string
	if rf, ok := ret.Get(0).(func() string); ok {
		r0 = rf()
	} else {
		r0 = ret.Get(0).(string)
	}

	return r0
}

// Submit provides a mock function with given fields: run, started
func (_m *Runner) Submit(run runner.JobRun, started *runner.StartSignal) (bool, error) {
	ret := _m.Called(run, started)

	var r0 bool
	if rf, ok := ret.Get(0).(func(runner.JobRun, *runner.StartSignal) bool); ok {
		r0 = rf(run, started)
	} else {
		r0 = ret.Get(0).(bool)
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(runner.JobRun, *runner.StartSignal) error); ok {
		r1 = rf(run, started)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}
