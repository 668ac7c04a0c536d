// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"cmp"

	"github.com/charmbracelet/glamour"
	"golang.org/x/exp/slices"

	"github.com/invowk/cokernel/pkg/abi"
)

type Id int

const (
	PermissionDeniedId Id = iota + 1
	InterruptedId
	NoExecId
	MigrationFailedId
	FaultId
	InvalidArgumentId
	NotImplementedId
	NotSupportedId
	CancelledId
	RestartId
	ConfigLoadFailedId
	ScenarioLoadFailedId
	ScenarioFailedId
)

type MarkdownMsg string

type HttpLink string

type Issue struct {
	id       Id          // ID used to lookup the issue
	status   abi.Status  // call status explained, 0 for non-call issues
	mdMsg    MarkdownMsg // Markdown text that will be rendered
	docLinks []HttpLink
	extLinks []HttpLink // external links that might be useful for the user
}

const errnoManPage HttpLink = "https://man7.org/linux/man-pages/man3/errno.3.html"

func (i *Issue) Id() Id {
	return i.id
}

// Status returns the call status the issue explains, or 0.
func (i *Issue) Status() abi.Status {
	return i.status
}

func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

func (i *Issue) DocLinks() []HttpLink {
	return slices.Clone(i.docLinks)
}

func (i *Issue) ExtLinks() []HttpLink {
	return slices.Clone(i.extLinks)
}

// Render formats the issue for a terminal. stylePath is a glamour style
// name ("dark", "light", "notty") or a path to a style file.
func (i *Issue) Render(stylePath string) (string, error) {
	extraMd := ""
	if len(i.docLinks) > 0 || len(i.extLinks) > 0 {
		extraMd += "\n\n## See also\n"
		for _, link := range append(slices.Clone(i.docLinks), i.extLinks...) {
			extraMd += "\n- <" + string(link) + ">"
		}
	}
	return render(string(i.mdMsg)+extraMd, stylePath)
}

var (
	render = glamour.Render

	permissionDeniedIssue = &Issue{
		id:     PermissionDeniedId,
		status: abi.StatusPermissionDenied,
		mdMsg: `
# EPERM: call refused

The permission gate turned the call away before its handler ran.

## Common causes
- The calling process is not bound yet. Only **bind** is accepted from an unbound process.
- The call needs a real-time thread (its mode requires binding) and the caller has none.
- The caller lacks real-time privilege.

## Things you can try
- Issue **bind** first, then retry.
- Check the privilege source:
~~~
$ cokernel config show
~~~
- Set ` + "`dispatch: warn_denied: true`" + ` to log every refusal.`,
		extLinks: []HttpLink{errnoManPage},
	}

	interruptedIssue = &Issue{
		id:     InterruptedId,
		status: abi.StatusInterrupted,
		mdMsg: `
# EINTR: interrupted by a signal

A host signal reached the thread while the call was in progress, and the
call is marked non-restartable, so it fails instead of restarting.

## Things you can try
- Handle EINTR in the caller and reissue the call when appropriate.
- For sleeps, recompute the remaining time before retrying.`,
		extLinks: []HttpLink{errnoManPage},
	}

	noExecIssue = &Issue{
		id:     NoExecId,
		status: abi.StatusNoExec,
		mdMsg: `
# ENOEXEC: ABI revision mismatch

The caller was built for another ABI revision than the one this co-kernel
implements, so **bind** refused it.

## Things you can try
- Rebuild the caller against the matching interface library.
- Check ` + "`features: abi_revision`" + ` in the configuration.`,
	}

	migrationFailedIssue = &Issue{
		id:     MigrationFailedId,
		status: abi.StatusMigrationFailed,
		mdMsg: `
# EAGAIN: migration failed

The thread could not be moved to the control domain before the handler ran.
The handler was not invoked.

## Things you can try
- Retry the call.
- Make sure the thread is not being torn down concurrently.`,
		extLinks: []HttpLink{errnoManPage},
	}

	faultIssue = &Issue{
		id:     FaultId,
		status: abi.StatusFault,
		mdMsg: `
# EFAULT: bad address

A pointer argument or the saved return site could not be used.`,
		extLinks: []HttpLink{errnoManPage},
	}

	invalidArgumentIssue = &Issue{
		id:     InvalidArgumentId,
		status: abi.StatusInvalid,
		mdMsg: `
# EINVAL: invalid argument

The handler rejected an argument value. For **bind** this means a mandatory
feature was requested that the co-kernel does not support; for **sysconf**
it means the option code is unknown.

## Things you can try
- List the supported features with ` + "`cokernel config show`" + `.
- Check the option code against the call documentation.`,
		extLinks: []HttpLink{errnoManPage},
	}

	notImplementedIssue = &Issue{
		id:     NotImplementedId,
		status: abi.StatusNotImplemented,
		mdMsg: `
# ENOSYS: no such call

The call number is outside the call table, or its slot has no handler.

## Things you can try
- List the table:
~~~
$ cokernel table
~~~`,
		extLinks: []HttpLink{errnoManPage},
	}

	notSupportedIssue = &Issue{
		id:     NotSupportedId,
		status: abi.StatusNotSupported,
		mdMsg: `
# EOPNOTSUPP: not supported here

The handler declined to run in the current domain. Adaptive calls get one
retry in the other domain before this status is returned.`,
		extLinks: []HttpLink{errnoManPage},
	}

	cancelledIssue = &Issue{
		id:     CancelledId,
		status: abi.StatusCancelled,
		mdMsg: `
# ECANCELED: thread cancelled

A cancellation request was pending. It was honoured at the call boundary
and the call did not complete.`,
		extLinks: []HttpLink{errnoManPage},
	}

	restartIssue = &Issue{
		id:     RestartId,
		status: abi.StatusRestart,
		mdMsg: `
# ERESTARTSYS: restart requested

A signal interrupted a restartable call. The host restarts the call
transparently once the signal is handled; a well-behaved caller never sees
this value.`,
	}

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Failed to load configuration!

The configuration file could not be parsed or failed validation.

## Things you can try
- Print the effective configuration:
~~~
$ cokernel config show
~~~
- Compare your file with the defaults and fix the fields named in the error.
- Pass another file with ` + "`--config`" + `.`,
	}

	scenarioLoadFailedIssue = &Issue{
		id: ScenarioLoadFailedId,
		mdMsg: `
# Failed to load scenario!

The scenario file does not match the scenario schema.

## Things you can try
- Every step must name a declared thread and a known call.
- Expected statuses are errno names ("EPERM") or integers.`,
	}

	scenarioFailedIssue = &Issue{
		id: ScenarioFailedId,
		mdMsg: `
# Scenario expectations not met

At least one step produced a status, domain or handler trace other than
the one expected. Run with ` + "`--verbose`" + ` for the per-step report.`,
	}

	issues = map[Id]*Issue{
		permissionDeniedIssue.Id():   permissionDeniedIssue,
		interruptedIssue.Id():        interruptedIssue,
		noExecIssue.Id():             noExecIssue,
		migrationFailedIssue.Id():    migrationFailedIssue,
		faultIssue.Id():              faultIssue,
		invalidArgumentIssue.Id():    invalidArgumentIssue,
		notImplementedIssue.Id():     notImplementedIssue,
		notSupportedIssue.Id():       notSupportedIssue,
		cancelledIssue.Id():          cancelledIssue,
		restartIssue.Id():            restartIssue,
		configLoadFailedIssue.Id():   configLoadFailedIssue,
		scenarioLoadFailedIssue.Id(): scenarioLoadFailedIssue,
		scenarioFailedIssue.Id():     scenarioFailedIssue,
	}
)

// Values returns every issue ordered by id.
func Values() []*Issue {
	out := make([]*Issue, 0, len(issues))
	for _, i := range issues {
		out = append(out, i)
	}
	slices.SortFunc(out, func(a, b *Issue) int { return cmp.Compare(a.id, b.id) })
	return out
}

func Get(id Id) *Issue {
	return issues[id]
}

// ForStatus returns the issue explaining a call status, or nil.
func ForStatus(st abi.Status) *Issue {
	for _, i := range issues {
		if i.status != 0 && i.status == st {
			return i
		}
	}
	return nil
}
