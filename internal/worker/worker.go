package worker

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/andresmejia3/screener/internal/types"
	"github.com/andresmejia3/screener/internal/utils" // Using the SafeCommand wrapper
)

// maxDimension guards against a corrupted length field allocating gigabytes.
const maxDimension = 4096

// ErrWorkerBroken is returned by every Embed after a pipe failure or timeout.
// The stream may still hold a late reply, so the process must be replaced.
var ErrWorkerBroken = errors.New("embedding worker is broken")

// Config describes how to launch the face-encoding process.
type Config struct {
	Command     string
	Args        []string
	ReadTimeout time.Duration
}

// EmbeddingWorker is a long-lived face-encoding process. Requests go over
// stdin and responses come back over a dedicated pipe (FD 3) so stray prints
// on stdout cannot corrupt the stream. Not safe for concurrent use.
type EmbeddingWorker struct {
	ID          int
	Cmd         *utils.SafeCommand
	Stdin       io.WriteCloser
	DataPipe    io.ReadCloser
	ReadTimeout time.Duration

	broken error
}

func NewEmbeddingWorker(id int, cfg Config) (*EmbeddingWorker, error) {
	// 1. Initialize the SafeCommand
	py := utils.NewSafeCommand(cfg.Command, cfg.Args...)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &EmbeddingWorker{
		ID:          id,
		Cmd:         py,
		Stdin:       stdin,
		DataPipe:    r,
		ReadTimeout: cfg.ReadTimeout,
	}, nil
}

// Embed sends one encoded image and returns every face found in it.
//
// Request:  [Len uint32][Image]
// Response: [Len uint32][Status byte][Body]
// Status 0: [NumFaces uint32] then per face [Box 4*int32][Dim uint32][Vec Dim*float32]
// Status 1: [MsgLen uint32][Msg]
func (w *EmbeddingWorker) Embed(data []byte) ([]types.FaceResult, error) {
	if w.broken != nil {
		return nil, fmt.Errorf("%w: %v", ErrWorkerBroken, w.broken)
	}
	body, err := w.roundTrip(data)
	if err != nil {
		w.markBroken(err)
		return nil, err
	}
	return decodeResponse(body)
}

// roundTrip writes one request frame and reads one response frame.
func (w *EmbeddingWorker) roundTrip(data []byte) ([]byte, error) {
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	if dl, ok := w.DataPipe.(interface{ SetReadDeadline(time.Time) error }); ok && w.ReadTimeout > 0 {
		dl.SetReadDeadline(time.Now().Add(w.ReadTimeout))
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // This is where we catch the "ModuleNotFoundError" crash
	}
	respLen := binary.BigEndian.Uint32(header)
	respBody := make([]byte, respLen)
	if _, err := io.ReadFull(w.DataPipe, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// markBroken stops the process so a reply still in flight is never read
// as the answer to a later request.
func (w *EmbeddingWorker) markBroken(err error) {
	w.broken = err
	if w.Cmd != nil && w.Cmd.Process != nil {
		w.Cmd.Process.Kill()
	}
}

// Broken reports the failure that took the worker out of service, if any.
func (w *EmbeddingWorker) Broken() error {
	return w.broken
}

func decodeResponse(body []byte) ([]types.FaceResult, error) {
	if len(body) == 0 {
		return nil, errors.New("empty response from python worker")
	}
	r := bytes.NewReader(body[1:])

	if body[0] != 0 {
		var msgLen uint32
		if err := binary.Read(r, binary.BigEndian, &msgLen); err != nil {
			return nil, fmt.Errorf("malformed error response: %w", err)
		}
		msg := make([]byte, msgLen)
		if _, err := io.ReadFull(r, msg); err != nil {
			return nil, fmt.Errorf("malformed error response: %w", err)
		}
		return nil, fmt.Errorf("python worker error: %s", msg)
	}

	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, fmt.Errorf("malformed face count: %w", err)
	}

	faces := make([]types.FaceResult, 0, count)
	for i := uint32(0); i < count; i++ {
		var box [4]int32
		if err := binary.Read(r, binary.BigEndian, &box); err != nil {
			return nil, fmt.Errorf("face %d: malformed box: %w", i, err)
		}
		var dim uint32
		if err := binary.Read(r, binary.BigEndian, &dim); err != nil {
			return nil, fmt.Errorf("face %d: malformed dimension: %w", i, err)
		}
		if dim > maxDimension {
			return nil, fmt.Errorf("face %d: dimension %d exceeds %d", i, dim, maxDimension)
		}
		raw := make([]float32, dim)
		if err := binary.Read(r, binary.BigEndian, raw); err != nil {
			return nil, fmt.Errorf("face %d: malformed vector: %w", i, err)
		}

		vec := make(types.Embedding, dim)
		for j, v := range raw {
			if math.IsNaN(float64(v)) {
				return nil, fmt.Errorf("face %d: NaN in embedding", i)
			}
			vec[j] = float64(v)
		}
		faces = append(faces, types.FaceResult{
			Loc: []int{int(box[0]), int(box[1]), int(box[2]), int(box[3])},
			Vec: vec,
		})
	}
	return faces, nil
}

func (w *EmbeddingWorker) Close() {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd != nil {
		w.Cmd.Wait()
	}
}
