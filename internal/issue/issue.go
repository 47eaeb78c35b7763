// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"maps"
	"slices"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/orbisgis/framework/internal/workspace"
	"github.com/orbisgis/framework/pkg/module"
)

type Id int

const (
	SourceUnreachableId Id = iota + 1
	UnresolvedDependencyId
	ManifestInvalidId
	WorkspaceCreateFailedId
	ConfigLoadFailedId
	ArtifactFetchFailedId
	ArtifactCorruptId
	ModuleNotFoundId
	LifecycleFailedId
	DeadlineExceededId
)

type MarkdownMsg string

type HttpLink string

type Renderer interface {
	Render(in string, stylePath string) (string, error)
}

type Issue struct {
	id       Id          // ID used to lookup the issue
	mdMsg    MarkdownMsg // Markdown text that will be rendered
	docLinks []HttpLink
	extLinks []HttpLink // external links that might be useful for the user
}

func (i *Issue) Id() Id {
	return i.id
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

func (i *Issue) Render(stylePath string) (string, error) {
	var extraMd strings.Builder
	if len(i.docLinks) > 0 || len(i.extLinks) > 0 {
		extraMd.WriteString("\n\n## See also:\n")
		for _, link := range i.docLinks {
			extraMd.WriteString("- [" + string(link) + "](" + string(link) + ")\n")
		}
		for _, link := range i.extLinks {
			extraMd.WriteString("- [" + string(link) + "](" + string(link) + ")\n")
		}
	}
	return render(string(i.mdMsg)+extraMd.String(), stylePath)
}

var (
	render = glamour.Render

	sourceUnreachableIssue = &Issue{
		id: SourceUnreachableId,
		mdMsg: `
# Repository source unreachable!

A repository catalog could not be downloaded or decoded. Modules it lists
are not available until the source is refreshed.

## Things you can try:
- Check the URL and your network connection
- List the registered sources:
~~~
$ orbisgis repo list
~~~

- Remove a source that moved or went away:
~~~
$ orbisgis repo remove <url>
~~~`,
	}

	unresolvedDependencyIssue = &Issue{
		id: UnresolvedDependencyId,
		mdMsg: `
# Unresolved dependencies!

The module requires other modules that no registered repository provides
in a matching version. Nothing was installed.

## Things you can try:
- Register the repository that publishes the missing modules:
~~~
$ orbisgis repo add <catalog-url>
~~~

- Inspect the requirements of the module:
~~~
$ orbisgis module info <grp:art>
~~~`,
	}

	manifestInvalidIssue = &Issue{
		id: ManifestInvalidId,
		mdMsg: `
# Invalid provisioning manifest!

The manifest is a properties file that lists the artifacts to provision.

## Expected format:
~~~properties
bundle.1=https://repo.example.org/core-5.1.0.pkg
bundle.2=file:///opt/modules/view-1.0.0.pkg
location.2=plugins
~~~

- ` + "`bundle.<n>`" + ` is the artifact URL, entries run in increasing n
- ` + "`location.<n>`" + ` is optional: a folder under the workspace, or ` + "`..`" + ` for the workspace root`,
	}

	workspaceCreateFailedIssue = &Issue{
		id: WorkspaceCreateFailedId,
		mdMsg: `
# Failed to create the workspace!

The workspace folders could not be created or cleared.

## Things you can try:
- Check the permissions of the workspace directory
- Pick another workspace:
~~~
$ orbisgis --workspace /path/to/workspace provision
~~~

- Or set ` + "`ORBISGIS_WORKSPACE`" + ` in your environment`,
	}

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Failed to load configuration!

Could not load the orbisgis configuration file.

## Configuration file locations:
- Linux: ~/.config/orbisgis/config.cue
- macOS: ~/Library/Application Support/orbisgis/config.cue
- Windows: %APPDATA%\orbisgis\config.cue

## Things you can try:
- Create a default configuration:
~~~
$ orbisgis config init
~~~

- Check the configuration syntax
- Remove the config file to use defaults

## Example configuration:
~~~cue
workspace: "/home/user/.orbisgis/workspace"
repositories: [
    "https://repo.example.org/catalog.toml",
]

download: {
  concurrency: 4
}
~~~`,
	}

	artifactFetchFailedIssue = &Issue{
		id: ArtifactFetchFailedId,
		mdMsg: `
# Artifact download failed!

A module artifact could not be retrieved from its location.

## Things you can try:
- Check the location is reachable from this machine
- Refresh the repositories, the artifact may have moved:
~~~
$ orbisgis repo list --refresh
~~~`,
	}

	artifactCorruptIssue = &Issue{
		id: ArtifactCorruptId,
		mdMsg: `
# Corrupt artifact!

A downloaded artifact does not carry a readable module identity
(a ` + "`module.toml`" + ` with ` + "`id`" + ` and ` + "`version`" + `).

## Things you can try:
- Force a fresh download:
~~~
$ orbisgis provision --force
~~~

- Or clear the workspace first:
~~~
$ orbisgis provision --clear
~~~`,
	}

	moduleNotFoundIssue = &Issue{
		id: ModuleNotFoundId,
		mdMsg: `
# Module not found!

No registered repository lists a module with these coordinates.

## Things you can try:
- List the known modules:
~~~
$ orbisgis module list
~~~

- Coordinates are ` + "`group:artifact`" + `, for example ` + "`org.orbisgis:core`",
	}

	lifecycleFailedIssue = &Issue{
		id: LifecycleFailedId,
		mdMsg: `
# Lifecycle operation failed!

The host runtime refused the operation or the module is not in a state that
allows it. A module must be installed before it starts, and started before
it stops.

## Things you can try:
- Check the module state:
~~~
$ orbisgis module info <grp:art>
~~~

- Run with verbose mode for more details:
~~~
$ orbisgis --verbose module start <grp:art>
~~~`,
	}

	deadlineExceededIssue = &Issue{
		id: DeadlineExceededId,
		mdMsg: `
# Operation timed out!

The operation did not complete before its deadline.

## Things you can try:
- Raise the download timeout in the configuration:
~~~cue
download: {
  timeout: "5m"
}
~~~`,
	}

	issues = map[Id]*Issue{
		sourceUnreachableIssue.Id():     sourceUnreachableIssue,
		unresolvedDependencyIssue.Id():  unresolvedDependencyIssue,
		manifestInvalidIssue.Id():       manifestInvalidIssue,
		workspaceCreateFailedIssue.Id(): workspaceCreateFailedIssue,
		configLoadFailedIssue.Id():      configLoadFailedIssue,
		artifactFetchFailedIssue.Id():   artifactFetchFailedIssue,
		artifactCorruptIssue.Id():       artifactCorruptIssue,
		moduleNotFoundIssue.Id():        moduleNotFoundIssue,
		lifecycleFailedIssue.Id():       lifecycleFailedIssue,
		deadlineExceededIssue.Id():      deadlineExceededIssue,
	}

	// kinds maps error kinds to issues. Order matters: the first match wins,
	// so the more specific kinds come first.
	kinds = []struct {
		err error
		id  Id
	}{
		{module.ErrDeadlineExceeded, DeadlineExceededId},
		{module.ErrUnresolvedDependency, UnresolvedDependencyId},
		{module.ErrModuleNotFound, ModuleNotFoundId},
		{module.ErrArtifactCorrupt, ArtifactCorruptId},
		{module.ErrArtifactFetchFailed, ArtifactFetchFailedId},
		{module.ErrSourceUnreachable, SourceUnreachableId},
		{module.ErrManifestInvalid, ManifestInvalidId},
		{workspace.ErrCreateFailed, WorkspaceCreateFailedId},
		{module.ErrInstallFailed, LifecycleFailedId},
		{module.ErrStartFailed, LifecycleFailedId},
		{module.ErrStopFailed, LifecycleFailedId},
		{module.ErrUpdateFailed, LifecycleFailedId},
		{module.ErrUninstallFailed, LifecycleFailedId},
	}
)

// Values returns every issue ordered by id.
func Values() []*Issue {
	ids := slices.Sorted(maps.Keys(issues))
	out := make([]*Issue, 0, len(ids))
	for _, id := range ids {
		out = append(out, issues[id])
	}
	return out
}

func Get(id Id) *Issue {
	return issues[id]
}

// ForError returns the issue describing err's kind, or nil.
func ForError(err error) *Issue {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return issues[k.id]
		}
	}
	return nil
}
