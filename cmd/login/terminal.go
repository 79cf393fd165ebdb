package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"portal-auth/internal/apps/auth/client"
	"portal-auth/internal/apps/auth/flow"
	"portal-auth/internal/apps/auth/session"
	otpmodels "portal-auth/internal/apps/otp/models"

	"go.uber.org/zap"
)

var errInputClosed = errors.New("input closed before login completed")

const (
	cmdResend = ":resend"
	cmdBack   = ":back"
)

// printer shows notifications on the terminal
type printer struct {
	out io.Writer
}

func (p printer) Notify(level flow.Level, message string) {
	fmt.Fprintf(p.out, "[%s] %s\n", level, message)
}

func run(ctx context.Context, opts *options, kv session.KV, in io.Reader, out io.Writer, log *zap.Logger) error {
	store := session.NewStore(kv)
	if opts.Logout {
		if err := store.Clear(ctx); err != nil {
			return err
		}
		fmt.Fprintln(out, "Logged out.")
		return nil
	}

	api := client.New(opts.Server, nil, log)
	ctrl := flow.New(api, api, store, printer{out: out}, flow.Options{
		Provider:        otpmodels.ProviderName(opts.Provider),
		TargetPatientID: opts.PatientID,
		TickInterval:    time.Second,
		Logger:          log,
	})
	defer ctrl.Close()

	if opts.Dev {
		if err := ctrl.SetDeveloperMode(true); err != nil {
			return err
		}
	}
	if err := ctrl.Enter(ctx); err != nil {
		return err
	}

	t := &terminal{ctrl: ctrl, in: bufio.NewScanner(in), out: out}
	return t.loop(ctx)
}

type terminal struct {
	ctrl *flow.Controller
	in   *bufio.Scanner
	out  io.Writer
}

func (t *terminal) loop(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		st := t.ctrl.State()
		switch st.Phase {
		case flow.Redirected:
			fmt.Fprintf(t.out, "Redirect: %s\n", st.Redirect)
			return nil

		case flow.PhoneEntry:
			prompt := "Phone number: "
			if st.Phone != "" {
				prompt = fmt.Sprintf("Phone number [%s]: ", otpmodels.MaskPhone(st.Phone))
			}
			line, ok := t.prompt(prompt)
			if !ok {
				return errInputClosed
			}
			if line != "" {
				t.ctrl.SetPhone(line)
			}
			if !st.CaptchaPassed && !st.DeveloperMode {
				answer, ok := t.prompt("Confirm you are human (y/N): ")
				if !ok {
					return errInputClosed
				}
				t.ctrl.PassCaptcha(strings.EqualFold(answer, "y") || strings.EqualFold(answer, "yes"))
			}
			if err := t.ctrl.SubmitPhone(ctx); err != nil {
				return err
			}

		case flow.OtpSent:
			line, ok := t.prompt(fmt.Sprintf("Code sent to %s (%s, %s): ", otpmodels.MaskPhone(otpmodels.NormalizePhone(st.Phone)), cmdResend, cmdBack))
			if !ok {
				return errInputClosed
			}
			switch line {
			case cmdResend:
				err := t.ctrl.Resend(ctx)
				if errors.Is(err, flow.ErrResendSuppressed) {
					fmt.Fprintf(t.out, "Resend available in %ds\n", t.ctrl.State().Countdown)
					continue
				}
				if err != nil {
					return err
				}
			case cmdBack:
				t.ctrl.Back()
			default:
				t.ctrl.SetCode(line)
				if err := t.ctrl.SubmitCode(ctx); err != nil {
					return err
				}
			}
		}
	}
}

func (t *terminal) prompt(label string) (string, bool) {
	fmt.Fprint(t.out, label)
	if !t.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(t.in.Text()), true
}
