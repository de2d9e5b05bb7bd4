// Package handlers binds dashboard commands to the flight components they
// act on: arming the state machine and retuning the controllers and the
// detector while the loop is running.
package handlers

import (
	"fmt"
	"log/slog"

	"github.com/precland/precland/internal/dispatcher"
	"github.com/precland/precland/internal/fsm"
	"github.com/precland/precland/internal/pid"
	"github.com/precland/precland/internal/vision"
)

// Dependencies holds everything the command handlers act on.
type Dependencies struct {
	Machine  *fsm.Machine
	RollPID  *pid.Controller
	PitchPID *pid.Controller
	Detector *vision.Detector
	Logger   *slog.Logger
}

// Service routes dispatcher events to the live flight components.
type Service struct {
	deps Dependencies
}

// NewService creates a new handler service.
func NewService(deps Dependencies) *Service {
	return &Service{deps: deps}
}

// Register binds the dashboard commands. setTuning is buffered because
// bursts arrive when an operator drags a slider.
func (s *Service) Register(d *dispatcher.Dispatcher) {
	d.Register(dispatcher.CmdEnable, s.handleEnable, dispatcher.Logged())
	d.Register(dispatcher.CmdDisable, s.handleDisable, dispatcher.Logged())
	d.Register(dispatcher.CmdSetTuning, s.handleSetTuning,
		dispatcher.Buffered(8), dispatcher.Logged())
}

func (s *Service) handleEnable(e dispatcher.Event) (any, error) {
	s.deps.Machine.Enable()
	return "ok", nil
}

func (s *Service) handleDisable(e dispatcher.Event) (any, error) {
	s.deps.Machine.Disable()
	return "ok", nil
}

func (s *Service) handleSetTuning(e dispatcher.Event) (any, error) {
	if e.Tuning == nil {
		return nil, fmt.Errorf("setTuning without payload")
	}
	s.ApplyTuning(*e.Tuning)
	return "ok", nil
}

// ApplyTuning folds a partial update into the live controllers. Absent
// fields keep their current values.
func (s *Service) ApplyTuning(u dispatcher.TuningUpdate) {
	for _, c := range []*pid.Controller{s.deps.RollPID, s.deps.PitchPID} {
		kp, ki, kd := c.Gains()
		if u.Kp != nil {
			kp = *u.Kp
		}
		if u.Ki != nil {
			ki = *u.Ki
		}
		if u.Kd != nil {
			kd = *u.Kd
		}
		c.SetGains(kp, ki, kd)
	}
	if u.Threshold != nil {
		s.deps.Detector.SetThreshold(*u.Threshold)
	}
	s.deps.Logger.Info("Tuning updated",
		"kp", u.Kp != nil, "ki", u.Ki != nil, "kd", u.Kd != nil,
		"threshold", u.Threshold != nil)
}
