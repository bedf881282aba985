package es_test

import (
	"fmt"

	"github.com/codewandler/userstream-go/core/es"
)

type counterIncremented struct {
	By int `json:"by"`
}

type counterReset struct{}

// counter is a minimal aggregate used across the package tests.
type counter struct {
	es.BaseAggregate
	Total int `json:"total"`
}

func newCounter(id string) *counter {
	c := &counter{}
	c.SetID(id)
	return c
}

func (c *counter) GetAggType() string { return "counter" }

func (c *counter) Register(r es.Registrar) {
	es.RegisterEvents(r,
		es.Event[counterIncremented](),
		es.Event[counterReset](),
	)
}

func (c *counter) Apply(event any) error {
	switch e := event.(type) {
	case *counterIncremented:
		c.Total += e.By
	case *counterReset:
		c.Total = 0
	default:
		return fmt.Errorf("unexpected event %T", event)
	}
	return nil
}

func (c *counter) Increment(by int) error {
	if by <= 0 {
		return fmt.Errorf("%w: increment must be positive", es.ErrValidation)
	}
	return es.RaiseAndApply(c, &counterIncremented{By: by})
}

func (c *counter) Reset() error {
	return es.RaiseAndApply(c, &counterReset{})
}
