package inference

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	ort "github.com/yalue/onnxruntime_go"

	"knucklebones/executor/convert"
	"knucklebones/game"
)

const (
	InputSize  = convert.FeatureSize
	PolicySize = convert.PolicySize
	ValueSize  = convert.ValueSize
)

// Defaults match the trainer's inference server settings.
const (
	DefaultBatchSize    = 32
	DefaultBatchTimeout = 2 * time.Millisecond
)

type OnnxClientConfig struct {
	BatchSize    int
	BatchTimeout time.Duration
}

// OnnxClient evaluates states with an ONNX Runtime session. Requests from
// concurrent self-play workers are coalesced by an internal batching loop
// so the session runs one tensor per batch instead of one per request.
type OnnxClient struct {
	session *ort.DynamicAdvancedSession
	batch   *batcher
	cfg     OnnxClientConfig
}

var ortInitOnce sync.Once
var ortInitErr error

func NewOnnxClient(modelPath string) (*OnnxClient, error) {
	return NewOnnxClientWithConfig(modelPath, OnnxClientConfig{BatchSize: DefaultBatchSize, BatchTimeout: DefaultBatchTimeout})
}

func NewOnnxClientWithConfig(modelPath string, cfg OnnxClientConfig) (*OnnxClient, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = DefaultBatchTimeout
	}

	if runtime.GOOS == "linux" {
		if p := os.Getenv("ORT_SHARED_LIBRARY_PATH"); p != "" {
			ort.SetSharedLibraryPath(p)
		} else {
			cwd, _ := os.Getwd()
			candidates := []string{
				"libonnxruntime.so",
				"libonnxruntime.so.1",
			}
			for _, name := range candidates {
				abs := filepath.Join(cwd, name)
				if _, err := os.Stat(abs); err == nil {
					ort.SetSharedLibraryPath(abs)
					break
				}
			}
		}
	}

	ortInitOnce.Do(func() {
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, fmt.Errorf("init onnxruntime: %w", ortInitErr)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	// One intra-op thread per session: the workers provide the
	// parallelism, the session should not fight them for cores.
	options.SetIntraOpNumThreads(1)
	options.SetInterOpNumThreads(1)

	if os.Getenv("KB_ORT_DISABLE_CUDA") == "" {
		cudaOptions, err := ort.NewCUDAProviderOptions()
		if err == nil {
			defer cudaOptions.Destroy()
			if err := options.AppendExecutionProviderCUDA(cudaOptions); err != nil {
				log.Warn().Err(err).Msg("CUDA provider unavailable, falling back to CPU")
			}
		}
	}

	inputs := []string{"input"}
	outputs := []string{"policy", "value"}
	session, err := ort.NewDynamicAdvancedSession(modelPath, inputs, outputs, options)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	client := &OnnxClient{session: session, cfg: cfg}
	client.batch = newBatcher(cfg.BatchSize, cfg.BatchTimeout, client.runBatch)
	return client, nil
}

func (c *OnnxClient) Close() error {
	return c.session.Destroy()
}

func (c *OnnxClient) Stats() RuntimeStats {
	return c.batch.stats()
}

func (c *OnnxClient) Predict(state *game.GameState) ([]float32, float32, error) {
	pooled := convert.StateToFloat32(state)
	input := make([]float32, InputSize)
	copy(input, *pooled)
	convert.PutFloatBuffer(pooled)

	return c.batch.submit(input)
}

func (c *OnnxClient) runBatch(requests []inferenceRequest, batchInput []float32) {
	n := int64(len(requests))

	inputTensor, err := ort.NewTensor(ort.NewShape(n, InputSize), batchInput)
	if err != nil {
		failBatch(requests, err)
		return
	}
	defer inputTensor.Destroy()

	policyTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(n, PolicySize))
	if err != nil {
		failBatch(requests, err)
		return
	}
	defer policyTensor.Destroy()

	valueTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(n, ValueSize))
	if err != nil {
		failBatch(requests, err)
		return
	}
	defer valueTensor.Destroy()

	if err := c.session.Run([]ort.Value{inputTensor}, []ort.Value{policyTensor, valueTensor}); err != nil {
		failBatch(requests, err)
		return
	}

	policyData := policyTensor.GetData()
	valueData := valueTensor.GetData()

	for i, req := range requests {
		policy := make([]float32, PolicySize)
		copy(policy, policyData[i*PolicySize:(i+1)*PolicySize])

		req.respChan <- inferenceResponse{
			policy: policy,
			value:  valueData[i*ValueSize],
		}
	}
}

func failBatch(requests []inferenceRequest, err error) {
	for _, req := range requests {
		req.respChan <- inferenceResponse{err: err}
	}
}
