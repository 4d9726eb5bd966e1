// Hand-written in the shape mockgen produces; it mocks only
// orchestrator.Factory.

// Package orchestratormock holds a gomock-style mock of orchestrator.Factory.
package orchestratormock

import (
	reflect "reflect"

	gomock "go.uber.org/mock/gomock"

	circuit "github.com/splinter-dev/splinter/circuit"
	orchestrator "github.com/splinter-dev/splinter/orchestrator"
)

// MockFactory is a mock of the Factory interface.
type MockFactory struct {
	ctrl     *gomock.Controller
	recorder *MockFactoryMockRecorder
}

// MockFactoryMockRecorder is the mock recorder for MockFactory.
type MockFactoryMockRecorder struct {
	mock *MockFactory
}

// NewMockFactory creates a new mock instance.
func NewMockFactory(ctrl *gomock.Controller) *MockFactory {
	mock := &MockFactory{ctrl: ctrl}
	mock.recorder = &MockFactoryMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockFactory) EXPECT() *MockFactoryMockRecorder {
	return m.recorder
}

// Start mocks base method.
func (m *MockFactory) Start(def orchestrator.Definition, args []circuit.Argument) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Start", def, args)
	ret0, _ := ret[0].(error)
	return ret0
}

// Start indicates an expected call of Start.
func (mr *MockFactoryMockRecorder) Start(def, args interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Start", reflect.TypeOf((*MockFactory)(nil).Start), def, args)
}

// Stop mocks base method.
func (m *MockFactory) Stop(def orchestrator.Definition) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Stop", def)
	ret0, _ := ret[0].(error)
	return ret0
}

// Stop indicates an expected call of Stop.
func (mr *MockFactoryMockRecorder) Stop(def interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Stop", reflect.TypeOf((*MockFactory)(nil).Stop), def)
}

// PurgeState mocks base method.
func (m *MockFactory) PurgeState(def orchestrator.Definition) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "PurgeState", def)
	ret0, _ := ret[0].(error)
	return ret0
}

// PurgeState indicates an expected call of PurgeState.
func (mr *MockFactoryMockRecorder) PurgeState(def interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "PurgeState", reflect.TypeOf((*MockFactory)(nil).PurgeState), def)
}

var _ orchestrator.Factory = (*MockFactory)(nil)
