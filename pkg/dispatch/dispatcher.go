// Package dispatch executes validated actions against a sandbox and records
// every outcome in the conversation's ledger.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"codesmith/pkg/action"
	"codesmith/pkg/api"
	"codesmith/pkg/sandbox"
	"codesmith/pkg/utils"
)

// Dispatcher turns one action into one sandbox effect. Execution follows a
// fixed envelope: claim the id in the ledger, validate, execute, resolve.
// An id the ledger refuses (already executed or executing) is a no-op.
type Dispatcher struct {
	sandbox api.Sandbox
	ledger  *action.Ledger
}

func New(sb api.Sandbox, ledger *action.Ledger) *Dispatcher {
	return &Dispatcher{sandbox: sb, ledger: ledger}
}

// Dispatch runs one action. The second return value reports whether the
// action actually executed this call; replayed ids return their recorded
// result with executed=false and cause no side effects.
func (d *Dispatcher) Dispatch(ctx context.Context, act api.Action) (api.ActionResult, bool) {
	if !d.ledger.Begin(act.ID) {
		res, _ := d.ledger.Result(act.ID)
		slog.Info("🔁 Skipping replayed action", "id", act.ID, "kind", act.Kind)
		return res, false
	}

	res := d.execute(ctx, act)
	d.ledger.Resolve(act.ID, res)

	if res.Success {
		slog.Info("✅ Action executed", "id", act.ID, "kind", act.Kind)
	} else {
		slog.Warn("❌ Action failed", "id", act.ID, "kind", act.Kind, "message", res.Message)
	}
	return res, true
}

func (d *Dispatcher) execute(ctx context.Context, act api.Action) api.ActionResult {
	if err := d.validate(act); err != nil {
		return api.ActionResult{Success: false, Message: err.Error()}
	}

	switch act.Kind {
	case api.KindCreateFile, api.KindWriteFile:
		if err := d.sandbox.WriteFile(ctx, act.FilePath, act.Content); err != nil {
			return failure(err)
		}
		verb := "Created"
		if act.Kind == api.KindWriteFile {
			verb = "Wrote"
		}
		return api.ActionResult{Success: true, Message: fmt.Sprintf("%s %s (%d bytes)", verb, act.FilePath, len(act.Content))}

	case api.KindReadFile, api.KindReadFileAndForward:
		content, err := d.sandbox.ReadFile(ctx, act.FilePath)
		if err != nil {
			return failure(err)
		}
		mime, _ := utils.DetectMimeAndExt([]byte(content))
		return api.ActionResult{
			Success: true,
			Message: fmt.Sprintf("Read %s (%d bytes, %s)", act.FilePath, len(content), mime),
			Data:    content,
		}

	case api.KindCreateDirectory:
		if err := d.sandbox.Mkdir(ctx, act.Directory, true); err != nil {
			return failure(err)
		}
		return api.ActionResult{Success: true, Message: fmt.Sprintf("Created directory %s", act.Directory)}

	case api.KindListFiles:
		names, err := d.sandbox.ReadDir(ctx, act.Directory)
		if err != nil {
			return failure(err)
		}
		return api.ActionResult{
			Success: true,
			Message: fmt.Sprintf("Listed %s (%d entries)", act.Directory, len(names)),
			Data:    strings.Join(names, "\n"),
		}

	case api.KindRunCommand:
		out, code, err := d.sandbox.Run(ctx, act.Command)
		if err != nil {
			return failure(err)
		}
		return api.ActionResult{
			Success:         code == 0,
			Message:         fmt.Sprintf("Command exited with code %d", code),
			Data:            out,
			IsCommandOutput: true,
		}
	}

	return api.ActionResult{Success: false, Message: fmt.Sprintf("unknown action kind %q", act.Kind)}
}

// validate re-checks the grammar-level fields plus the sandbox safety rules
// before any effect happens. 遠端沙箱不會自己驗證路徑，所以一律在這裡擋
func (d *Dispatcher) validate(act api.Action) error {
	if err := act.Validate(); err != nil {
		return err
	}

	switch act.Kind {
	case api.KindCreateFile, api.KindWriteFile:
		if err := sandbox.CheckRelPath(act.FilePath); err != nil {
			return err
		}
		return sandbox.CheckWritePath(act.FilePath)
	case api.KindReadFile, api.KindReadFileAndForward:
		return sandbox.CheckRelPath(act.FilePath)
	case api.KindCreateDirectory:
		if err := sandbox.CheckRelPath(act.Directory); err != nil {
			return err
		}
		return sandbox.CheckWritePath(act.Directory)
	case api.KindListFiles:
		return sandbox.CheckRelPath(act.Directory)
	case api.KindRunCommand:
		return sandbox.CheckCommand(act.Command)
	}
	return nil
}

func failure(err error) api.ActionResult {
	return api.ActionResult{Success: false, Message: err.Error()}
}
