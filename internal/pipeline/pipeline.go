// Package pipeline drives one event through the whole remediation flow:
// clone, scan, dispatch, gate, fix, rail, commit, report. A run is scoped to
// a single head commit of a single change request and always terminates with
// a published outcome.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/autopatch-dev/autopatch/internal/baseline"
	"github.com/autopatch-dev/autopatch/internal/config"
	"github.com/autopatch-dev/autopatch/internal/dispatch"
	"github.com/autopatch-dev/autopatch/internal/export"
	"github.com/autopatch-dev/autopatch/internal/findings"
	"github.com/autopatch-dev/autopatch/internal/fixer"
	"github.com/autopatch-dev/autopatch/internal/gate"
	"github.com/autopatch-dev/autopatch/internal/git"
	"github.com/autopatch-dev/autopatch/internal/ingest"
	"github.com/autopatch-dev/autopatch/internal/ledger"
	"github.com/autopatch-dev/autopatch/internal/rail"
	"github.com/autopatch-dev/autopatch/internal/report"
	"github.com/autopatch-dev/autopatch/internal/scanner"
	sharedErrors "github.com/autopatch-dev/autopatch/pkg/shared/errors"
)

// Default bounds for a single run.
const (
	DefaultRunTimeout  = 10 * time.Minute
	DefaultScanTimeout = 5 * time.Minute
	maxFixWorkers      = 4
)

// Pipeline holds the collaborators shared by every run.
type Pipeline struct {
	GitClient   *git.Client
	Scanner     scanner.Scanner
	Reporter    report.Reporter
	Exporter    *export.Client
	Ledger      *ledger.Ledger
	Registry    *fixer.Registry
	Logger      hclog.Logger
	WorkDir     string
	RunTimeout  time.Duration
	ScanTimeout time.Duration
}

// HandleEvent satisfies the webhook handler contract. Errors terminate the
// run with an error status; they are never returned to the webhook caller.
func (p *Pipeline) HandleEvent(ctx context.Context, event ingest.Event) {
	timeout := p.RunTimeout
	if timeout <= 0 {
		timeout = DefaultRunTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := p.Run(ctx, event)
	p.Logger.Info("run finished",
		"run_id", result.RunID,
		"repository", event.Repository(),
		"change_request", event.ChangeRequest,
		"applied", len(result.PatchesApplied),
		"skipped", len(result.FindingsSkipped),
		"errors", len(result.Errors),
	)
}

// Run executes one event end to end and returns its result. Reporting and
// export happen inside; the returned result is for callers that want the
// outcome (the run command, tests).
func (p *Pipeline) Run(ctx context.Context, event ingest.Event) findings.RunResult {
	runID := uuid.NewString()
	logger := p.Logger.With("run_id", runID, "repository", event.Repository(), "change_request", event.ChangeRequest)
	result := findings.RunResult{RunID: runID}

	if !p.Ledger.AllowRun(fmt.Sprintf("%s#%d", event.Repository(), event.ChangeRequest)) {
		logger.Warn("run rejected by rate window")
		return result
	}

	target := report.Target{
		Owner:         event.Owner,
		Repo:          event.Repo,
		ChangeRequest: event.ChangeRequest,
		HeadSHA:       event.HeadSHA,
	}
	if err := p.Reporter.SetStatus(ctx, target, report.StatusPending, "analyzing changes"); err != nil {
		logger.Warn("failed to set pending status", "error", err)
	}

	run := &runState{pipeline: p, event: event, logger: logger, result: &result}
	run.execute(ctx)

	p.publish(ctx, target, event, run, result)
	return result
}

func (p *Pipeline) publish(ctx context.Context, target report.Target, event ingest.Event, run *runState, result findings.RunResult) {
	var decisions []rail.Decision
	if run.rail != nil {
		decisions = run.rail.Decisions()
	}

	// A clean run stays silent: the status alone reports the pass.
	if result.Empty() {
		run.logger.Debug("clean run, no comment published")
	} else {
		body := report.BuildComment(result, run.previews, decisions, event.HeadSHA)
		if err := p.Reporter.UpsertComment(ctx, target, body); err != nil {
			run.logger.Error("failed to publish run comment", "error", err)
		}
	}

	status, description := report.StatusFor(result)
	if err := p.Reporter.SetStatus(ctx, target, status, description); err != nil {
		run.logger.Error("failed to set commit status", "error", err)
	}

	if p.Exporter != nil {
		if err := p.Exporter.PublishRun(ctx, event.Repository(), event.ChangeRequest, event.HeadSHA, result); err != nil {
			run.logger.Warn("run export failed", "error", err)
		}
	}
}

// runState carries the intermediate products of a single run.
type runState struct {
	pipeline *Pipeline
	event    ingest.Event
	logger   hclog.Logger
	result   *findings.RunResult

	repo     *git.Repository
	cfg      *config.Config
	rail     *rail.Rail
	previews map[string]string
	claimed  []findings.Finding
}

func (r *runState) fail(stage string, err error) {
	r.logger.Error("run stage failed", "stage", stage, "error", err)
	r.result.Errors = append(r.result.Errors, fmt.Sprintf("%s: %v", stage, err))
}

func (r *runState) execute(ctx context.Context) {
	p := r.pipeline

	workDir := p.WorkDir
	if workDir == "" {
		workDir = os.TempDir()
	}
	targetFolder := filepath.Join(workDir, "autopatch", r.result.RunID)
	defer os.RemoveAll(targetFolder)

	repo, err := p.GitClient.Clone(ctx, r.event.CloneURL, r.event.Branch, targetFolder)
	if err != nil {
		r.fail("clone", err)
		return
	}
	r.repo = repo

	head, err := repo.HeadCommit()
	if err != nil {
		r.fail("head", err)
		return
	}
	if ledger.IsOwnCommit(head) {
		r.logger.Info("head commit is our own, skipping run", "sha", head.SHA)
		return
	}

	cfg, err := config.Load(repo.Path)
	if err != nil {
		r.fail("config", err)
		return
	}
	r.cfg = cfg
	r.rail = rail.New(cfg, r.logger)

	files, err := r.changedFiles()
	if err != nil {
		r.fail("diff", err)
		return
	}
	if len(files) == 0 {
		r.logger.Info("no scannable files changed")
		return
	}

	scanTimeout := p.ScanTimeout
	if scanTimeout <= 0 {
		scanTimeout = DefaultScanTimeout
	}
	scanCtx, cancel := context.WithTimeout(ctx, scanTimeout)
	sarifReport, err := p.Scanner.Scan(scanCtx, repo.Path, files)
	cancel()
	if err != nil {
		r.fail("scan", err)
		return
	}

	fileContents := r.loadContents(files)
	raw := sarifReport.Findings(fileContents)
	raw = r.onlyChanged(raw, files)

	dispatcher := dispatch.New(p.Registry, r.logger)
	routed, unroutable := dispatcher.Dispatch(raw)
	for _, f := range unroutable {
		r.result.FindingsSkipped = append(r.result.FindingsSkipped, findings.SkippedFinding{
			Finding:  f,
			Reason:   findings.SkipUnroutable,
			Guidance: "no automatic fix exists for this rule family; review manually",
		})
	}

	var snapshot *baseline.Snapshot
	if cfg.BaselineMode {
		snapshot, err = baseline.Load(repo.Path)
		if err != nil {
			r.fail("baseline", err)
			return
		}
	}
	admitted, warn := r.admit(routed, snapshot)

	r.previews = make(map[string]string)
	r.proposeWarn(warn, fileContents)
	if len(admitted) == 0 {
		return
	}

	patches := r.propose(ctx, admitted, fileContents)
	if len(patches) == 0 {
		return
	}

	if err := r.rail.Validate(patches); err != nil {
		r.rejectBatch(patches, admitted, err)
		return
	}
	if err := r.rail.Verify(ctx, repo.Path, patches); err != nil {
		r.rejectBatch(patches, admitted, err)
		return
	}

	r.commit(ctx, patches)
}

// changedFiles lists head-vs-base paths with ignore patterns applied.
func (r *runState) changedFiles() ([]string, error) {
	var files []string
	var err error
	if r.event.BaseSHA != "" {
		files, err = r.repo.ChangedFiles(r.event.BaseSHA)
		if err != nil {
			return nil, err
		}
	}

	patterns, err := config.ReadIgnorePatterns(r.repo.Path)
	if err != nil {
		return nil, err
	}
	return config.FilterIgnored(files, patterns), nil
}

func (r *runState) loadContents(files []string) map[string][]string {
	contents := make(map[string][]string, len(files))
	for _, f := range files {
		lines, err := r.repo.ReadFileLines(f)
		if err != nil {
			r.logger.Debug("skipping unreadable changed file", "file", f, "error", err)
			continue
		}
		contents[f] = lines
	}
	return contents
}

// onlyChanged drops findings outside the changed file set. Scanners invoked
// on explicit paths rarely stray, but SARIF reports may carry artifacts for
// includes.
func (r *runState) onlyChanged(raw []findings.Finding, files []string) []findings.Finding {
	allowed := make(map[string]struct{}, len(files))
	for _, f := range files {
		allowed[f] = struct{}{}
	}
	var out []findings.Finding
	for _, f := range raw {
		if _, ok := allowed[f.FilePath]; ok {
			out = append(out, f)
		}
	}
	return out
}

// admit splits routed findings into admitted ones, which get claimed and
// fixed, and warn-mode ones, which get a proposal rendered but never
// applied. Other rejections go straight to the skipped list.
func (r *runState) admit(routed []dispatch.Routed, snapshot *baseline.Snapshot) (admitted, warn []dispatch.Routed) {
	g := gate.New(r.cfg, snapshot, r.logger)

	for _, item := range routed {
		ok, reason := g.Admit(item.Finding, item.Fixer)
		if !ok {
			if reason == findings.SkipWarnMode {
				warn = append(warn, item)
				continue
			}
			r.result.FindingsSkipped = append(r.result.FindingsSkipped, findings.SkippedFinding{
				Finding: item.Finding,
				Reason:  reason,
			})
			continue
		}
		if !r.pipeline.Ledger.ClaimFinding(r.event.ChangeRequest, r.event.HeadSHA, item.Finding) {
			r.result.FindingsSkipped = append(r.result.FindingsSkipped, findings.SkippedFinding{
				Finding:  item.Finding,
				Reason:   findings.SkipAlreadyFixed,
				Guidance: "a fix for this finding was already attempted at this head",
			})
			continue
		}
		r.claimed = append(r.claimed, item.Finding)
		admitted = append(admitted, item)
	}
	return admitted, warn
}

// proposeWarn runs fixers for warn-mode findings without claiming them. The
// proposed diff rides along as guidance in the report; nothing is applied.
func (r *runState) proposeWarn(warn []dispatch.Routed, fileContents map[string][]string) {
	for _, item := range warn {
		skipped := findings.SkippedFinding{Finding: item.Finding, Reason: findings.SkipWarnMode}
		original := fileContents[item.Finding.FilePath]
		patch, err := item.Fixer.Propose([]byte(joinLines(original)), item.Finding)
		if err == nil {
			skipped.Guidance = "rule runs in warn mode; the proposed fix below was not applied"
			if preview, perr := rail.RenderPreview(original, *patch); perr == nil {
				r.previews[item.Finding.ID] = preview
			} else {
				r.logger.Warn("failed to render warn-mode preview", "file", patch.FilePath, "error", perr)
			}
		} else if nsf, ok := fixer.AsNoSafeFix(err); ok {
			skipped.Guidance = nsf.Guidance
		} else {
			r.logger.Warn("warn-mode proposal failed", "file", item.Finding.FilePath, "error", err)
		}
		r.result.FindingsSkipped = append(r.result.FindingsSkipped, skipped)
	}
}

// propose runs fixers with a per-file fan-out. Findings within a file run
// sequentially against the same source snapshot; files run in parallel.
func (r *runState) propose(ctx context.Context, admitted []dispatch.Routed, fileContents map[string][]string) []findings.Patch {
	byFile := make(map[string][]dispatch.Routed)
	var order []string
	for _, item := range admitted {
		if _, ok := byFile[item.Finding.FilePath]; !ok {
			order = append(order, item.Finding.FilePath)
		}
		byFile[item.Finding.FilePath] = append(byFile[item.Finding.FilePath], item)
	}

	var mu sync.Mutex
	var patches []findings.Patch

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(maxFixWorkers)
	for _, filePath := range order {
		filePath := filePath
		items := byFile[filePath]
		g.Go(func() error {
			src := []byte(joinLines(fileContents[filePath]))
			for _, item := range items {
				patch, err := item.Fixer.Propose(src, item.Finding)
				mu.Lock()
				r.recordProposal(item, patch, err, fileContents[filePath], &patches)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.SliceStable(patches, func(i, j int) bool {
		if patches[i].FilePath != patches[j].FilePath {
			return patches[i].FilePath < patches[j].FilePath
		}
		return patches[i].FindingID < patches[j].FindingID
	})
	return patches
}

func (r *runState) recordProposal(item dispatch.Routed, patch *findings.Patch, err error, original []string, patches *[]findings.Patch) {
	if err != nil {
		if nsf, ok := fixer.AsNoSafeFix(err); ok {
			r.result.FindingsSkipped = append(r.result.FindingsSkipped, findings.SkippedFinding{
				Finding:  item.Finding,
				Reason:   nsf.Reason,
				Guidance: nsf.Guidance,
			})
		} else {
			r.fail("fix "+item.Finding.FilePath, err)
		}
		r.pipeline.Ledger.ReleaseFinding(r.event.ChangeRequest, r.event.HeadSHA, item.Finding)
		return
	}

	preview, perr := rail.RenderPreview(original, *patch)
	if perr != nil {
		r.logger.Warn("failed to render diff preview", "file", patch.FilePath, "error", perr)
	} else {
		r.previews[patch.FindingID] = preview
	}
	*patches = append(*patches, *patch)
}

// rejectBatch converts every proposed patch into a skipped finding with the
// rail's reason and releases the idempotency claims so a later head may
// retry.
func (r *runState) rejectBatch(patches []findings.Patch, admitted []dispatch.Routed, cause error) {
	reason := reasonForRailError(cause)

	byID := make(map[string]findings.Finding, len(admitted))
	for _, item := range admitted {
		byID[item.Finding.ID] = item.Finding
	}
	for _, p := range patches {
		f, ok := byID[p.FindingID]
		if !ok {
			continue
		}
		r.result.FindingsSkipped = append(r.result.FindingsSkipped, findings.SkippedFinding{
			Finding:  f,
			Reason:   reason,
			Guidance: cause.Error(),
		})
	}
	r.releaseClaims()
	r.logger.Warn("batch rejected, run degraded to report-only", "reason", reason, "error", cause)
}

// releaseClaims frees every idempotency claim taken this run so a later
// attempt at the same head may retry.
func (r *runState) releaseClaims() {
	for _, f := range r.claimed {
		r.pipeline.Ledger.ReleaseFinding(r.event.ChangeRequest, r.event.HeadSHA, f)
	}
}

func (r *runState) commit(ctx context.Context, patches []findings.Patch) {
	patched, err := r.repo.ApplyPatches(patches)
	if err != nil {
		r.fail("apply", err)
		r.releaseClaims()
		return
	}

	summary := commitSummary(patches)
	commitSHA, err := r.repo.CommitAndPush(ctx, patched, summary, r.result.RunID)
	if err != nil {
		r.fail("push", err)
		r.releaseClaims()
		return
	}

	r.result.PatchesApplied = patches
	r.result.CommitSHA = commitSHA
}

func commitSummary(patches []findings.Patch) string {
	files := make(map[string]struct{})
	for _, p := range patches {
		files[p.FilePath] = struct{}{}
	}
	if len(patches) == 1 {
		return patches[0].Summary
	}
	return fmt.Sprintf("fix %d security findings across %d files", len(patches), len(files))
}

func reasonForRailError(cause error) findings.SkipReason {
	var verification *sharedErrors.VerificationFailedError
	if errors.As(cause, &verification) {
		return findings.SkipVerificationFailed
	}
	var guardrail *rail.GuardrailError
	if errors.As(cause, &guardrail) {
		return findings.SkipNoSafeFix
	}
	return findings.SkipDiffBudgetExceeded
}

func joinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}
