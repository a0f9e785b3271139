package rcs

import (
	"context"
	"errors"

	"github.com/backkem/rcs/pkg/sharing"
	"github.com/backkem/rcs/pkg/transport"
)

// LoopbackConfig configures a LoopbackPair. Each side keeps its own
// Config; Signaling and Factory are always provided by the pair.
type LoopbackConfig struct {
	Originating StackConfig
	Terminating StackConfig
}

// LoopbackPair runs two stacks in one process, connected by loopback
// signaling over an in-memory network. It backs the loopback command and
// end-to-end tests.
type LoopbackPair struct {
	Network     *transport.PipeNetwork
	Originating *Stack
	Terminating *Stack

	originatingSignaling *sharing.LoopbackSignaling
	terminatingSignaling *sharing.LoopbackSignaling
}

// NewLoopbackPair creates both stacks without starting them.
func NewLoopbackPair(config LoopbackConfig) (*LoopbackPair, error) {
	p := &LoopbackPair{Network: transport.NewPipeNetwork()}
	p.originatingSignaling = sharing.NewLoopbackSignaling(config.Originating.LoggerFactory)
	p.terminatingSignaling = sharing.NewLoopbackSignaling(config.Terminating.LoggerFactory)

	oc := config.Originating
	oc.Signaling = p.originatingSignaling
	oc.Factory = p.Network
	tc := config.Terminating
	tc.Signaling = p.terminatingSignaling
	tc.Factory = p.Network

	var err error
	if p.Originating, err = NewStack(oc); err != nil {
		p.release()
		return nil, err
	}
	if p.Terminating, err = NewStack(tc); err != nil {
		p.release()
		return nil, err
	}
	p.originatingSignaling.Connect(p.Terminating.Sharing())
	p.terminatingSignaling.Connect(p.Originating.Sharing())
	return p, nil
}

// Start starts both stacks.
func (p *LoopbackPair) Start(ctx context.Context) error {
	if err := p.Originating.Start(ctx); err != nil {
		return err
	}
	return p.Terminating.Start(ctx)
}

// Close stops both stacks and releases the network.
func (p *LoopbackPair) Close(ctx context.Context) error {
	var errs []error
	for _, s := range []*Stack{p.Originating, p.Terminating} {
		if s.State().CanStop() {
			errs = append(errs, s.Stop(ctx))
		} else if s.State() == StackStateInitialized {
			errs = append(errs, s.Sharing().Close(ctx))
		}
	}
	p.release()
	return errors.Join(errs...)
}

func (p *LoopbackPair) release() {
	p.originatingSignaling.Close()
	p.terminatingSignaling.Close()
	p.Network.Close()
}
