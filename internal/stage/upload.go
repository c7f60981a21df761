// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package stage

import (
	"context"
	"fmt"
	"strings"

	"github.com/Inkotake/ojo-agent/internal/capability"
	"github.com/Inkotake/ojo-agent/internal/problem"
	"github.com/Inkotake/ojo-agent/internal/workspace"
	"github.com/Inkotake/ojo-agent/pkg/ojoerrors"
)

// RunUpload resolves or creates the problem on pc.UploadAdapter, skipping
// creation entirely when a title match or a prior receipt already
// accounts for it.
func RunUpload(ctx context.Context, pc ProblemCtx) (StageResult, error) {
	if r, ok := pc.Workspace.GetUploadReceipt(pc.UploadAdapter); ok {
		return StageResult{Skipped: true, RealID: r.RealID, URL: r.URL}, nil
	}

	adapter, err := pc.Adapters.Get(pc.UploadAdapter)
	if err != nil {
		return StageResult{}, &ojoerrors.StageError{Stage: "upload", Kind: ojoerrors.KindNotFound, Message: err.Error(), Cause: err}
	}
	uploader, ok := adapter.(capability.Uploader)
	if !ok {
		return StageResult{}, &ojoerrors.StageError{Stage: "upload", Kind: ojoerrors.KindValidation, Message: fmt.Sprintf("adapter %q cannot upload", pc.UploadAdapter)}
	}

	stmt, err := pc.Workspace.ReadStatement()
	if err != nil {
		return StageResult{}, &ojoerrors.StageError{Stage: "upload", Kind: ojoerrors.KindPermanent, Message: "reading statement", Cause: err}
	}
	title := normalizeTitle(stmt.Title)

	if searcher, ok := adapter.(capability.TitleSearcher); ok {
		if realID, found, err := searcher.SearchByTitle(ctx, pc.UserID, title); err == nil && found {
			return finishUpload(ctx, pc, realID, "")
		}
	}

	src := workspaceUploadSource{ws: pc.Workspace}
	result, err := uploader.UploadData(ctx, pc.UserID, src)
	if err != nil {
		return StageResult{}, classifyUploadError(err)
	}

	realID := result.RealID
	if realID == "" {
		realID = recoverMissingRealID(ctx, adapter, pc, title)
	}
	if realID == "" {
		return StageResult{}, &ojoerrors.StageError{
			Stage: "upload", Kind: ojoerrors.KindSemantic, Code: ojoerrors.CodeUploadNoID,
			Message: "adapter returned no real_id and no fallback resolved one",
		}
	}

	return finishUpload(ctx, pc, realID, result.ResponseMeta["url"])
}

// finishUpload persists the upload receipt and returns the stage result.
// When the adapter response didn't supply url, it forms one from the
// user's AdapterConfig for pc.UploadAdapter: the adapter's own template
// if declared, else {base_url}/d/{domain}/p/{real_id} per spec.md §4.5.3.
func finishUpload(ctx context.Context, pc ProblemCtx, realID, url string) (StageResult, error) {
	if url == "" {
		url = pc.adapterConfig(ctx, pc.UploadAdapter).UploadedURL(realID)
	}
	if err := pc.Workspace.PutUploadReceipt(pc.UploadAdapter, workspace.Receipt{RealID: realID, URL: url}); err != nil {
		return StageResult{}, &ojoerrors.StageError{Stage: "upload", Kind: ojoerrors.KindPermanent, Message: "persisting receipt", Cause: err}
	}
	pc.emit(problem.EventStageCompleted, "uploaded as %s", realID)
	return StageResult{RealID: realID, URL: url}, nil
}

// recoverMissingRealID implements the two remaining fallbacks spec.md
// §4.5.3 describes for an adapter that returns 200 with no real_id: a
// second title search, then any receipt already on file for this
// (workspace, adapter) pair.
func recoverMissingRealID(ctx context.Context, adapter capability.Adapter, pc ProblemCtx, title string) string {
	if searcher, ok := adapter.(capability.TitleSearcher); ok {
		if realID, found, err := searcher.SearchByTitle(ctx, pc.UserID, title); err == nil && found {
			return realID
		}
	}
	if r, ok := pc.Workspace.GetUploadReceipt(pc.UploadAdapter); ok {
		return r.RealID
	}
	return ""
}

func classifyUploadError(err error) error {
	return &ojoerrors.StageError{Stage: "upload", Kind: ojoerrors.KindTransientNetwork, Message: err.Error(), Cause: err}
}

// normalizeTitle collapses whitespace runs to a single space and trims,
// preserving case, per spec.md §4.5.3's title-match normalization rule.
func normalizeTitle(title string) string {
	return strings.Join(strings.Fields(title), " ")
}

// workspaceUploadSource adapts a Workspace to capability.UploadSource
// without coupling that package to the on-disk layout.
type workspaceUploadSource struct {
	ws workspace.Workspace
}

func (s workspaceUploadSource) Statement() (capability.Statement, error) {
	st, err := s.ws.ReadStatement()
	if err != nil {
		return capability.Statement{}, err
	}
	samples := make([]capability.Sample, len(st.Samples))
	for i, sm := range st.Samples {
		samples[i] = capability.Sample{In: sm.In, Out: sm.Out}
	}
	return capability.Statement{
		Title: st.Title, Body: st.Body, InputFormat: st.InputFormat, OutputFormat: st.OutputFormat,
		Samples: samples, Limits: capability.Limits{TimeMS: st.Limits.TimeMS, MemoryMB: st.Limits.MemoryMB},
		Tags: st.Tags, Notes: st.Notes,
	}, nil
}

func (s workspaceUploadSource) Cases() ([]capability.Sample, error) {
	indices := s.ws.GeneratedCaseIndices()
	cases := make([]capability.Sample, 0, len(indices))
	for _, i := range indices {
		in, expected, ok := s.ws.ReadGeneratedCase(i)
		if !ok {
			continue
		}
		cases = append(cases, capability.Sample{In: in, Out: expected})
	}
	return cases, nil
}
