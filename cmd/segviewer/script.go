package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"segviewer/internal/models"
	"segviewer/pkg/pipeline"
)

// Script is a headless session: a list of steps, each applied and rendered
// before the next one starts.
type Script struct {
	Steps []Step `yaml:"steps"`
}

// Step holds exactly one command
type Step struct {
	Move      *int       `yaml:"move,omitempty"`
	View      *ViewStep  `yaml:"view,omitempty"`
	Paint     *PaintStep `yaml:"paint,omitempty"`
	Flip      *int       `yaml:"flip,omitempty"`
	Translate *int       `yaml:"translate,omitempty"`
	Action    *int       `yaml:"action,omitempty"`
	Radius    *int       `yaml:"radius,omitempty"`
	Clear     bool       `yaml:"clear,omitempty"`
	Save      bool       `yaml:"save,omitempty"`
}

// ViewStep changes only the view parameters it names
type ViewStep struct {
	FlipX      *bool `yaml:"flipX,omitempty"`
	FlipY      *bool `yaml:"flipY,omitempty"`
	SwapXY     *bool `yaml:"swapXY,omitempty"`
	Phase      *int  `yaml:"phase,omitempty"`
	Z          *int  `yaml:"z,omitempty"`
	Resolution *int  `yaml:"resolution,omitempty"`
}

// PaintStep is a click on the canvas. Canvas defaults to the render resolution.
type PaintStep struct {
	X      int `yaml:"x"`
	Y      int `yaml:"y"`
	Canvas int `yaml:"canvas,omitempty"`
}

// LoadScript reads a YAML script
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse script: %w", err)
	}
	for i, step := range s.Steps {
		if n := step.commands(); n != 1 {
			return nil, fmt.Errorf("step %d has %d commands, want exactly one", i+1, n)
		}
	}
	return &s, nil
}

func (s Step) commands() int {
	n := 0
	for _, set := range []bool{
		s.Move != nil, s.View != nil, s.Paint != nil, s.Flip != nil,
		s.Translate != nil, s.Action != nil, s.Radius != nil, s.Clear, s.Save,
	} {
		if set {
			n++
		}
	}
	return n
}

func (v ViewStep) apply(p *models.ViewParams) {
	if v.FlipX != nil {
		p.FlipX = *v.FlipX
	}
	if v.FlipY != nil {
		p.FlipY = *v.FlipY
	}
	if v.SwapXY != nil {
		p.SwapXY = *v.SwapXY
	}
	if v.Phase != nil {
		p.Phase = *v.Phase
	}
	if v.Z != nil {
		p.Z = *v.Z
	}
	if v.Resolution != nil {
		p.Resolution = *v.Resolution
	}
}

// Run applies every step to c, settling the pipeline after each
func (s *Script) Run(ctx context.Context, c *pipeline.Controller) error {
	for i, step := range s.Steps {
		if err := step.run(c); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
		if err := c.Settle(ctx); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	return nil
}

func (s Step) run(c *pipeline.Controller) error {
	switch {
	case s.Move != nil:
		c.Move(*s.Move)
	case s.View != nil:
		c.SetView(s.View.apply)
	case s.Paint != nil:
		canvas := s.Paint.Canvas
		if canvas == 0 {
			canvas = c.View().Resolution
		}
		c.Paint(s.Paint.X, s.Paint.Y, canvas)
	case s.Flip != nil:
		c.FlipSegmentation(*s.Flip)
	case s.Translate != nil:
		c.Translate(*s.Translate)
	case s.Action != nil:
		return c.SetBrushAction(*s.Action)
	case s.Radius != nil:
		return c.SetBrushRadius(*s.Radius)
	case s.Clear:
		return c.ClearSegmentation()
	case s.Save:
		c.Save()
	default:
		return errors.New("empty step")
	}
	return nil
}
