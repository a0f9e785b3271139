package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/backkem/rcs/pkg/rcs"
	"github.com/backkem/rcs/pkg/sharing"
	"github.com/spf13/pflag"
)

const (
	loopbackSender   = "sip:alice@loopback.invalid"
	loopbackReceiver = "sip:bob@loopback.invalid"
)

func (a *app) runLoopback(ctx context.Context, args []string) error {
	var (
		file     string
		encoding string
		maxSize  int64
		outDir   string
		timeout  time.Duration
	)
	flagSet := pflag.NewFlagSet("loopback", pflag.ContinueOnError)
	flagSet.SetOutput(a.stderr)
	flagSet.StringVar(&file, "file", "", "file to share (required)")
	flagSet.StringVar(&encoding, "type", "", "MIME type (default: guessed from the extension)")
	flagSet.Int64Var(&maxSize, "max-size", 0, "receiver size limit in bytes, 0 for unlimited")
	flagSet.StringVar(&outDir, "out", "", "receiver storage directory (default: a temporary directory)")
	flagSet.DurationVar(&timeout, "timeout", time.Minute, "overall time limit")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if file == "" {
		return fmt.Errorf("loopback: --file is required")
	}

	// Both stacks report from their own goroutines.
	a.stdout = &syncWriter{w: a.stdout}

	sender, err := a.loadConfig(func(c *rcs.Config) {
		c.Identity = loopbackSender
		c.LocalHost = "127.0.0.1"
	})
	if err != nil {
		return err
	}
	if outDir == "" {
		dir, err := os.MkdirTemp("", "rcs-loopback-")
		if err != nil {
			return err
		}
		outDir = dir
	}
	receiver := *sender
	receiver.Identity = loopbackReceiver
	receiver.LocalHost = "127.0.0.2"
	receiver.XDM = rcs.XDMConfig{}
	receiver.Sharing.StorageDir = outDir
	receiver.Sharing.MaxSize = maxSize
	receiver.Sharing.SupportedEncodings = []string{"*/*"}
	sender.XDM = rcs.XDMConfig{}
	sender.Sharing.StorageDir = outDir

	lf, err := a.loggerFactory(sender)
	if err != nil {
		return err
	}

	incoming := make(chan *sharing.Session, 1)
	pair, err := rcs.NewLoopbackPair(rcs.LoopbackConfig{
		Originating: rcs.StackConfig{Config: sender, LoggerFactory: lf},
		Terminating: rcs.StackConfig{
			Config:        &receiver,
			LoggerFactory: lf,
			OnIncoming: func(s *sharing.Session) {
				s.AddListener(sharing.ListenerFuncs{
					Invited: func(s *sharing.Session) {
						fmt.Fprintf(a.stdout, "%s: invitation for %s (%d bytes)\n",
							loopbackReceiver, s.Content().Name, s.Content().Size)
						_ = s.AcceptInvitation()
					},
				})
				select {
				case incoming <- s:
				default:
				}
			},
		},
	})
	if err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		pair.Close(stopCtx)
	}()
	if err := pair.Start(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := pair.Originating.ShareFile(ctx, loopbackReceiver, file, encoding, a.progressPrinter())
	if err != nil {
		return err
	}
	if _, err := out.Wait(ctx); err != nil {
		out.AbortSession()
		return err
	}

	var in *sharing.Session
	select {
	case in = <-incoming:
	default:
	}
	if in != nil {
		if _, err := in.Wait(ctx); err != nil {
			return err
		}
	}

	fmt.Fprintf(a.stdout, "%s: %s\n", loopbackSender, describe(out))
	if in == nil {
		return fmt.Errorf("loopback: no session reached the receiver")
	}
	fmt.Fprintf(a.stdout, "%s: %s\n", loopbackReceiver, describe(in))
	if in.State() != sharing.StateCompleted {
		return fmt.Errorf("loopback: transfer ended %s", in.State())
	}
	fmt.Fprintf(a.stdout, "stored %s\n", filepath.Clean(in.Locator()))
	return nil
}

// progressPrinter reports every tenth of the transfer.
func (a *app) progressPrinter() sharing.Listener {
	var last int64 = -1
	return sharing.ListenerFuncs{
		Started: func(s *sharing.Session) {
			fmt.Fprintf(a.stdout, "%s: transfer %s started\n", loopbackSender, s.TransferID())
		},
		Progress: func(_ *sharing.Session, current, total int64) {
			if total <= 0 {
				return
			}
			step := current * 10 / total
			if step != last {
				last = step
				fmt.Fprintf(a.stdout, "%s: %d/%d bytes\n", loopbackSender, current, total)
			}
		},
	}
}

func describe(s *sharing.Session) string {
	switch st := s.State(); st {
	case sharing.StateCompleted:
		return fmt.Sprintf("%s (%d bytes)", st, s.BytesTransferred())
	case sharing.StateFailed:
		return fmt.Sprintf("%s: %s: %v", st, s.ErrorCode(), s.Err())
	default:
		return fmt.Sprintf("%s (%s)", st, s.Reason())
	}
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
