package model

import "github.com/emersion/go-message"

// Mail pairs a message identity with its parsed MIME entity, as produced
// by a message source and consumed by one pipeline pass.
type Mail struct {
	Desc   Descriptor
	Entity *message.Entity
}
