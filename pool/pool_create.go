package pool

import (
	"context"
	"io"
	"strings"

	cerrors "github.com/cockroachdb/errors"
	"github.com/nulibc/nucore/internal/utils"
	"github.com/nulibc/nucore/memutils"
	"github.com/nulibc/nucore/memutils/metadata"
	"golang.org/x/exp/slog"
)

// CreateFlags indicate specific pool behaviors to activate or deactivate
type CreateFlags int32

const (
	// CreateExternallySynchronized ensures that this pool will not be synchronized internally. The
	// consumer must guarantee it is used from only one goroutine at a time or is synchronized by some
	// other mechanism, but performance may improve because the internal mutex is not used.
	CreateExternallySynchronized CreateFlags = 1 << iota
)

var createFlagsMapping = map[CreateFlags]string{
	CreateExternallySynchronized: "CreateExternallySynchronized",
}

func (f CreateFlags) String() string {
	if f == 0 {
		return "None"
	}

	var names []string
	for bit := CreateFlags(1); bit != 0 && bit <= f; bit <<= 1 {
		if f&bit == 0 {
			continue
		}

		name, ok := createFlagsMapping[bit]
		if !ok {
			name = "Unknown"
		}
		names = append(names, name)
	}

	return strings.Join(names, "|")
}

// CreateOptions contains optional settings when creating a pool. It is valid to leave all the fields blank.
type CreateOptions struct {
	// Flags indicates specific pool behaviors to activate or deactivate
	Flags CreateFlags
	// Name is used to identify the pool in log output and stats dumps
	Name string
	// MaxArenaSize, when positive, is the largest arena the pool may reserve. Requests above it fail
	// with memutils.ErrAllocationFailed instead of being passed to the host.
	MaxArenaSize int
}

// New reserves an arena of total bytes and returns a Pool that carves named blocks out of it. The arena is
// the only memory the pool requests from the host; blocks are carved from it without further host allocations.
//
// logger - Receives debug traces and diagnostics. If nil, log output is discarded.
//
// total - The capacity of the pool in bytes. It cannot be changed after creation.
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, total int, options CreateOptions) (*Pool, error) {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	err := memutils.CheckNonNegative(total, "total")
	if err != nil {
		return nil, err
	}

	if options.MaxArenaSize > 0 && total > options.MaxArenaSize {
		return nil, cerrors.Wrapf(memutils.ErrAllocationFailed, "an arena of %d bytes exceeds the configured maximum of %d bytes", total, options.MaxArenaSize)
	}

	arena, err := allocateArena(total)
	if err != nil {
		logger.LogAttrs(context.Background(), slog.LevelError, "failed to reserve arena",
			slog.String("pool", options.Name),
			slog.Int("total", total),
			slog.Any("error", err),
		)
		return nil, err
	}

	md := metadata.NewFirstFitBlockMetadata()
	md.Init(total)

	pool := &Pool{
		logger:      logger,
		mutex:       utils.OptionalRWMutex{UseMutex: options.Flags&CreateExternallySynchronized == 0},
		createFlags: options.Flags,
		name:        options.Name,
		total:       total,
		arena:       arena,
		metadata:    md,
	}

	logger.LogAttrs(context.Background(), slog.LevelDebug, "Pool::New",
		slog.String("pool", options.Name),
		slog.Int("total", total),
		slog.String("flags", options.Flags.String()),
	)

	return pool, nil
}

func allocateArena(size int) (arena []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			arena = nil
			err = cerrors.Wrapf(memutils.ErrAllocationFailed, "could not reserve an arena of %d bytes: %v", size, r)
		}
	}()

	return make([]byte, size), nil
}
