package workspace_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/coactrun/coact/internal/workspace"
)

func TestExtractFilesAbsolutePath(t *testing.T) {
	text := "see /tmp/report/output.pdf for details"
	rewritten, refs := workspace.ExtractFiles(text, "workspace")
	assert.Equal(t, "see workspace/output.pdf for details", rewritten)
	assert.Equal(t, []workspace.FileRef{{Name: "output.pdf", Path: "workspace/output.pdf"}}, refs)
}

func TestExtractFilesQuotedName(t *testing.T) {
	text := `saved as "analysis.csv" in the workspace`
	rewritten, refs := workspace.ExtractFiles(text, "out")
	assert.Equal(t, "saved as out/analysis.csv in the workspace", rewritten)
	assert.Equal(t, []workspace.FileRef{{Name: "analysis.csv", Path: "out/analysis.csv"}}, refs)
}

func TestExtractFilesNoFolderIsNoop(t *testing.T) {
	text := "see /tmp/report/output.pdf"
	rewritten, refs := workspace.ExtractFiles(text, "")
	assert.Equal(t, text, rewritten)
	assert.Nil(t, refs)
}

func TestExtractFilesNoMatch(t *testing.T) {
	rewritten, refs := workspace.ExtractFiles("nothing to extract here", "out")
	assert.Equal(t, "nothing to extract here", rewritten)
	assert.Empty(t, refs)
}
