// Package domain defines the output delivery contract: how a job's produced
// files are packaged for retrieval.
package domain

import (
	"context"
	"errors"
	"io"

	"github.com/bwmarrin/snowflake"
	processingdomain "github.com/mixforge/mixforge/internal/processing/domain"
)

// Download modes advertised to clients.
const (
	ModeSingle  = "single"
	ModeBatch   = "batch"
	ModeChunked = "chunked"
)

// ChunkDescriptor describes one stable slice of the output list.
type ChunkDescriptor struct {
	Index     int   `json:"index"`
	FileCount int   `json:"fileCount"`
	Size      int64 `json:"size"`
}

// DownloadInfo advises the client how to fetch a job's outputs.
type DownloadInfo struct {
	TotalFiles           int               `json:"totalFiles"`
	TotalSize            int64             `json:"totalSize"`
	RecommendedChunkSize int               `json:"recommendedChunkSize"`
	NumberOfChunks       int               `json:"numberOfChunks"`
	DownloadOptions      []string          `json:"downloadOptions"`
	Chunks               []ChunkDescriptor `json:"chunks,omitempty"`
}

// Archive is a resolved set of files ready to stream as one ZIP.
type Archive struct {
	Name  string
	Files []processingdomain.OutputFile
}

type Service interface {
	// Info computes the download strategy for a job's current outputs.
	Info(ctx context.Context, userID, jobID snowflake.ID) (DownloadInfo, error)
	// Single resolves the sole output for direct download.
	Single(ctx context.Context, userID, jobID snowflake.ID) (processingdomain.OutputFile, error)
	// Batch resolves all outputs, or an explicit subset by id.
	Batch(ctx context.Context, userID, jobID snowflake.ID, outputIDs []snowflake.ID) (Archive, error)
	// Chunk resolves the chunkIndex-th slice of the outputs ordered by
	// creation time. Slicing is stable under concurrent appends.
	Chunk(ctx context.Context, userID, jobID snowflake.ID, chunkIndex, chunkSize int) (Archive, error)
	// Stream writes the archive as a ZIP. Files missing on disk are skipped.
	Stream(ctx context.Context, w io.Writer, archive Archive) error
}

var (
	ErrNoOutputs     = errors.New("no_output_files")
	ErrEmptyArchive  = errors.New("empty_archive")
	ErrInvalidChunk  = errors.New("invalid_chunk")
	ErrBatchTooLarge = errors.New("batch_too_large")
)
