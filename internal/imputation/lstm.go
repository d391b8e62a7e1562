package imputation

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"go.uber.org/zap"
)

// LSTMNetwork is a stacked LSTM regressor: two or more recurrent layers
// followed by a linear projection to one scalar. It maps a window of
// already-scaled feature rows to a scaled prediction for the next step;
// scaling and inverse scaling are owned by the surrounding pipeline.
//
// Predict is stateless and safe for concurrent use once the network is
// trained or loaded. Fit is not; training runs offline, never inside a
// request path.
type LSTMNetwork struct {
	InputSize   int         `json:"input_size"`
	SeqLen      int         `json:"sequence_length"`
	HiddenSizes []int       `json:"hidden_sizes"`
	Dropout     float64     `json:"dropout"`
	Layers      []lstmLayer `json:"layers"`
	WOut        []float64   `json:"w_out"`
	BOut        float64     `json:"b_out"`

	Trained bool `json:"trained"`

	logger *zap.SugaredLogger
	rng    *rand.Rand
}

// lstmLayer holds the weights of one recurrent layer. Gate rows are ordered
// input, forget, candidate, output; each block is HiddenSize rows tall.
type lstmLayer struct {
	InputSize  int         `json:"input_size"`
	HiddenSize int         `json:"hidden_size"`
	Wx         [][]float64 `json:"wx"` // 4H x InputSize
	Wh         [][]float64 `json:"wh"` // 4H x HiddenSize
	B          []float64   `json:"b"`  // 4H
}

// FitOptions controls one training run.
type FitOptions struct {
	// ValidationSplit is the chronological tail fraction of the examples
	// held out for early stopping. The examples must arrive oldest first.
	ValidationSplit float64
	MaxEpochs       int
	Patience        int
	BatchSize       int
	LearningRate    float64
}

// FitReport summarizes a completed training run.
type FitReport struct {
	EpochsRun      int     `json:"epochs_run"`
	BestValLoss    float64 `json:"best_val_loss"`
	FinalTrainLoss float64 `json:"final_train_loss"`
}

const weightSeed = 42

// NewLSTMNetwork builds an untrained network with Xavier-initialized weights
// and forget-gate biases of 1. The fixed seed keeps weight initialization,
// and therefore whole training runs, reproducible.
func NewLSTMNetwork(inputSize, seqLen int, hiddenSizes []int, dropout float64, logger *zap.SugaredLogger) (*LSTMNetwork, error) {
	if inputSize <= 0 || seqLen <= 0 {
		return nil, fmt.Errorf("lstm: input size %d and sequence length %d must be positive", inputSize, seqLen)
	}
	if len(hiddenSizes) < 2 {
		return nil, fmt.Errorf("lstm: need at least two recurrent layers, got %d", len(hiddenSizes))
	}
	if dropout < 0 || dropout >= 1 {
		return nil, fmt.Errorf("lstm: dropout %v out of [0,1)", dropout)
	}

	n := &LSTMNetwork{
		InputSize:   inputSize,
		SeqLen:      seqLen,
		HiddenSizes: append([]int(nil), hiddenSizes...),
		Dropout:     dropout,
		logger:      logger,
		rng:         rand.New(rand.NewSource(weightSeed)),
	}

	prev := inputSize
	for _, h := range hiddenSizes {
		n.Layers = append(n.Layers, n.newLayer(prev, h))
		prev = h
	}
	last := hiddenSizes[len(hiddenSizes)-1]
	n.WOut = n.xavierVec(last, last, 1)
	n.BOut = 0
	return n, nil
}

// AttachRuntime reattaches the non-serialized runtime pieces after a network
// has been decoded from a persisted artifact.
func (n *LSTMNetwork) AttachRuntime(logger *zap.SugaredLogger) {
	n.logger = logger
	n.rng = rand.New(rand.NewSource(weightSeed))
}

// Ready reports whether the network can serve predictions.
func (n *LSTMNetwork) Ready() bool { return n.Trained }

// Predict runs one forward pass over a seqLen x inputSize window of scaled
// features and returns the scaled scalar output. Dropout is inactive.
func (n *LSTMNetwork) Predict(window [][]float64) (float64, error) {
	if !n.Trained {
		return 0, fmt.Errorf("lstm predict: %w", ErrNotFitted)
	}
	if err := n.checkWindow(window); err != nil {
		return 0, fmt.Errorf("lstm predict: %w", err)
	}
	out, _ := n.forward(window, nil)
	return out, nil
}

// Fit trains the network with mini-batch Adam on mean-squared error.
// The last ValidationSplit fraction of the examples is held out; validation
// loss is monitored every epoch and training halts once it has failed to
// improve for Patience consecutive epochs, restoring the best weights seen.
// Inputs must be scaled, finite, of equal shape, and oldest first.
func (n *LSTMNetwork) Fit(ctx context.Context, inputs [][][]float64, targets []float64, opts FitOptions) (*FitReport, error) {
	if len(inputs) != len(targets) {
		return nil, fmt.Errorf("lstm fit: %d windows but %d targets", len(inputs), len(targets))
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("lstm fit: no training windows: %w", ErrInsufficientData)
	}
	for i, w := range inputs {
		if err := n.checkWindow(w); err != nil {
			return nil, fmt.Errorf("lstm fit: window %d: %w", i, err)
		}
		if !isFinite(targets[i]) {
			return nil, fmt.Errorf("lstm fit: non-finite target at window %d", i)
		}
	}
	if opts.MaxEpochs <= 0 {
		return nil, fmt.Errorf("lstm fit: max epochs must be positive")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 16
	}
	if opts.LearningRate <= 0 {
		opts.LearningRate = 0.001
	}

	nVal := int(float64(len(inputs))*opts.ValidationSplit + 0.5)
	if nVal >= len(inputs) {
		nVal = len(inputs) - 1
	}
	nTrain := len(inputs) - nVal
	trainX, trainY := inputs[:nTrain], targets[:nTrain]
	valX, valY := inputs[nTrain:], targets[nTrain:]

	n.logger.Infow("starting lstm training",
		"train_windows", nTrain,
		"val_windows", nVal,
		"max_epochs", opts.MaxEpochs,
		"patience", opts.Patience,
		"batch_size", opts.BatchSize,
	)

	adam := newAdamState(n)
	order := make([]int, nTrain)
	for i := range order {
		order[i] = i
	}

	bestVal := math.Inf(1)
	var bestSnap *weightSnapshot
	bad := 0
	report := &FitReport{}

	for epoch := 0; epoch < opts.MaxEpochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("lstm fit: %w", err)
		}

		n.rng.Shuffle(nTrain, func(i, j int) { order[i], order[j] = order[j], order[i] })

		trainLoss := 0.0
		for start := 0; start < nTrain; start += opts.BatchSize {
			end := start + opts.BatchSize
			if end > nTrain {
				end = nTrain
			}
			batch := order[start:end]

			grads := newNetGrads(n)
			for _, idx := range batch {
				masks := n.dropoutMasks()
				pred, caches := n.forward(trainX[idx], masks)
				diff := pred - trainY[idx]
				trainLoss += diff * diff
				n.backward(trainX[idx], caches, masks, 2*diff, grads)
			}
			grads.scale(1 / float64(len(batch)))
			adam.step(n, grads, opts.LearningRate)
		}
		trainLoss /= float64(nTrain)

		monitored := trainLoss
		if nVal > 0 {
			monitored = n.meanSquaredError(valX, valY)
		}

		report.EpochsRun = epoch + 1
		report.FinalTrainLoss = trainLoss

		if monitored < bestVal {
			bestVal = monitored
			bestSnap = n.snapshot()
			bad = 0
		} else {
			bad++
		}

		if epoch%10 == 0 {
			n.logger.Infow("training progress",
				"epoch", epoch, "train_loss", trainLoss, "val_loss", monitored)
		}

		if opts.Patience > 0 && bad >= opts.Patience {
			n.logger.Infow("early stopping", "epoch", epoch, "best_val_loss", bestVal)
			break
		}
	}

	if bestSnap != nil {
		n.restore(bestSnap)
	}
	report.BestValLoss = bestVal
	n.Trained = true

	n.logger.Infow("lstm training completed",
		"epochs_run", report.EpochsRun,
		"best_val_loss", report.BestValLoss,
	)
	return report, nil
}

func (n *LSTMNetwork) checkWindow(window [][]float64) error {
	if len(window) != n.SeqLen {
		return fmt.Errorf("window has %d rows, want %d", len(window), n.SeqLen)
	}
	for t, row := range window {
		if len(row) != n.InputSize {
			return fmt.Errorf("window row %d has %d features, want %d", t, len(row), n.InputSize)
		}
		for j, v := range row {
			if !isFinite(v) {
				return fmt.Errorf("non-finite input at row %d feature %d", t, j)
			}
		}
	}
	return nil
}

func (n *LSTMNetwork) meanSquaredError(inputs [][][]float64, targets []float64) float64 {
	sum := 0.0
	for i, w := range inputs {
		pred, _ := n.forward(w, nil)
		diff := pred - targets[i]
		sum += diff * diff
	}
	return sum / float64(len(inputs))
}

// ---- forward / backward ----

// layerCache stores per-timestep activations needed for backpropagation
// through time.
type layerCache struct {
	x     [][]float64 // inputs to this layer
	hPrev [][]float64
	cPrev [][]float64
	i     [][]float64
	f     [][]float64
	g     [][]float64
	o     [][]float64
	c     [][]float64
	tanhC [][]float64
	h     [][]float64
}

// forward runs the full stack over one window. masks, when non-nil, are
// inverted-dropout masks applied to each layer's output sequence.
func (n *LSTMNetwork) forward(window [][]float64, masks [][]float64) (float64, []*layerCache) {
	caches := make([]*layerCache, len(n.Layers))
	seq := window
	for li := range n.Layers {
		cache := n.Layers[li].forwardSeq(seq)
		caches[li] = cache
		out := cache.h
		if masks != nil {
			dropped := make([][]float64, len(out))
			for t := range out {
				dropped[t] = mulVec(out[t], masks[li])
			}
			out = dropped
			cache.h = dropped // backward sees the dropped outputs as layer output
		}
		seq = out
	}

	hLast := seq[len(seq)-1]
	y := n.BOut
	for j, w := range n.WOut {
		y += w * hLast[j]
	}
	return y, caches
}

func (l *lstmLayer) forwardSeq(xs [][]float64) *layerCache {
	L := len(xs)
	H := l.HiddenSize
	cache := &layerCache{
		x:     xs,
		hPrev: make([][]float64, L),
		cPrev: make([][]float64, L),
		i:     make([][]float64, L),
		f:     make([][]float64, L),
		g:     make([][]float64, L),
		o:     make([][]float64, L),
		c:     make([][]float64, L),
		tanhC: make([][]float64, L),
		h:     make([][]float64, L),
	}

	h := make([]float64, H)
	c := make([]float64, H)
	for t := 0; t < L; t++ {
		cache.hPrev[t] = h
		cache.cPrev[t] = c

		z := make([]float64, 4*H)
		copy(z, l.B)
		for r := 0; r < 4*H; r++ {
			row := l.Wx[r]
			acc := z[r]
			for j, xv := range xs[t] {
				acc += row[j] * xv
			}
			row = l.Wh[r]
			for j, hv := range h {
				acc += row[j] * hv
			}
			z[r] = acc
		}

		it := make([]float64, H)
		ft := make([]float64, H)
		gt := make([]float64, H)
		ot := make([]float64, H)
		ct := make([]float64, H)
		tc := make([]float64, H)
		ht := make([]float64, H)
		for j := 0; j < H; j++ {
			it[j] = sigmoid(z[j])
			ft[j] = sigmoid(z[H+j])
			gt[j] = math.Tanh(z[2*H+j])
			ot[j] = sigmoid(z[3*H+j])
			ct[j] = ft[j]*c[j] + it[j]*gt[j]
			tc[j] = math.Tanh(ct[j])
			ht[j] = ot[j] * tc[j]
		}

		cache.i[t], cache.f[t], cache.g[t], cache.o[t] = it, ft, gt, ot
		cache.c[t], cache.tanhC[t], cache.h[t] = ct, tc, ht
		h, c = ht, ct
	}
	return cache
}

// backward accumulates gradients for one example into grads. dOut is the
// loss derivative with respect to the scalar output.
func (n *LSTMNetwork) backward(window [][]float64, caches []*layerCache, masks [][]float64, dOut float64, grads *netGrads) {
	top := len(n.Layers) - 1
	L := n.SeqLen

	hLast := caches[top].h[L-1]
	for j := range n.WOut {
		grads.wOut[j] += dOut * hLast[j]
	}
	grads.bOut += dOut

	// Gradient w.r.t. each layer's output sequence, top layer first.
	dH := make([][]float64, L)
	for t := range dH {
		dH[t] = make([]float64, n.Layers[top].HiddenSize)
	}
	for j, w := range n.WOut {
		dH[L-1][j] = dOut * w
	}

	for li := top; li >= 0; li-- {
		if masks != nil {
			for t := range dH {
				dH[t] = mulVec(dH[t], masks[li])
			}
		}
		dX := n.Layers[li].backwardSeq(caches[li], dH, &grads.layers[li])
		dH = dX
	}
}

func (l *lstmLayer) backwardSeq(cache *layerCache, dH [][]float64, g *layerGrads) [][]float64 {
	L := len(cache.x)
	H := l.HiddenSize
	D := l.InputSize

	dX := make([][]float64, L)
	dhNext := make([]float64, H)
	dcNext := make([]float64, H)

	for t := L - 1; t >= 0; t-- {
		dh := make([]float64, H)
		for j := 0; j < H; j++ {
			dh[j] = dH[t][j] + dhNext[j]
		}

		dz := make([]float64, 4*H)
		dc := make([]float64, H)
		for j := 0; j < H; j++ {
			o := cache.o[t][j]
			tc := cache.tanhC[t][j]
			dc[j] = dh[j]*o*(1-tc*tc) + dcNext[j]

			i := cache.i[t][j]
			f := cache.f[t][j]
			gg := cache.g[t][j]

			dz[j] = dc[j] * gg * i * (1 - i)              // input gate
			dz[H+j] = dc[j] * cache.cPrev[t][j] * f * (1 - f) // forget gate
			dz[2*H+j] = dc[j] * i * (1 - gg*gg)           // candidate
			dz[3*H+j] = dh[j] * tc * o * (1 - o)          // output gate
		}

		xt := cache.x[t]
		hPrev := cache.hPrev[t]
		dxt := make([]float64, D)
		dhPrev := make([]float64, H)
		for r := 0; r < 4*H; r++ {
			dzr := dz[r]
			if dzr == 0 {
				continue
			}
			wxRow := l.Wx[r]
			gwxRow := g.wx[r]
			for j := 0; j < D; j++ {
				gwxRow[j] += dzr * xt[j]
				dxt[j] += dzr * wxRow[j]
			}
			whRow := l.Wh[r]
			gwhRow := g.wh[r]
			for j := 0; j < H; j++ {
				gwhRow[j] += dzr * hPrev[j]
				dhPrev[j] += dzr * whRow[j]
			}
			g.b[r] += dzr
		}

		dX[t] = dxt
		dhNext = dhPrev
		for j := 0; j < H; j++ {
			dcNext[j] = dc[j] * cache.f[t][j]
		}
	}
	return dX
}

// dropoutMasks draws one inverted-dropout mask per layer output for a single
// training example. Nil when dropout is disabled.
func (n *LSTMNetwork) dropoutMasks() [][]float64 {
	if n.Dropout == 0 {
		return nil
	}
	keep := 1 - n.Dropout
	masks := make([][]float64, len(n.Layers))
	for li, layer := range n.Layers {
		m := make([]float64, layer.HiddenSize)
		for j := range m {
			if n.rng.Float64() < keep {
				m[j] = 1 / keep
			}
		}
		masks[li] = m
	}
	return masks
}

// ---- weight initialization, snapshots, gradients, Adam ----

func (n *LSTMNetwork) newLayer(inputSize, hiddenSize int) lstmLayer {
	l := lstmLayer{
		InputSize:  inputSize,
		HiddenSize: hiddenSize,
		Wx:         make([][]float64, 4*hiddenSize),
		Wh:         make([][]float64, 4*hiddenSize),
		B:          make([]float64, 4*hiddenSize),
	}
	for r := 0; r < 4*hiddenSize; r++ {
		l.Wx[r] = n.xavierVec(inputSize, hiddenSize, inputSize)
		l.Wh[r] = n.xavierVec(hiddenSize, hiddenSize, hiddenSize)
	}
	// Forget-gate biases start at 1 so early training does not flush state.
	for j := 0; j < hiddenSize; j++ {
		l.B[hiddenSize+j] = 1
	}
	return l
}

func (n *LSTMNetwork) xavierVec(fanIn, fanOut, size int) []float64 {
	limit := math.Sqrt(6.0 / float64(fanIn+fanOut))
	v := make([]float64, size)
	for i := range v {
		v[i] = (2*n.rng.Float64() - 1) * limit
	}
	return v
}

type weightSnapshot struct {
	layers []lstmLayer
	wOut   []float64
	bOut   float64
}

func (n *LSTMNetwork) snapshot() *weightSnapshot {
	s := &weightSnapshot{
		layers: make([]lstmLayer, len(n.Layers)),
		wOut:   append([]float64(nil), n.WOut...),
		bOut:   n.BOut,
	}
	for li, l := range n.Layers {
		s.layers[li] = lstmLayer{
			InputSize:  l.InputSize,
			HiddenSize: l.HiddenSize,
			Wx:         copyMatrix(l.Wx),
			Wh:         copyMatrix(l.Wh),
			B:          append([]float64(nil), l.B...),
		}
	}
	return s
}

func (n *LSTMNetwork) restore(s *weightSnapshot) {
	n.Layers = s.layers
	n.WOut = s.wOut
	n.BOut = s.bOut
}

type layerGrads struct {
	wx [][]float64
	wh [][]float64
	b  []float64
}

type netGrads struct {
	layers []layerGrads
	wOut   []float64
	bOut   float64
}

func newNetGrads(n *LSTMNetwork) *netGrads {
	g := &netGrads{
		layers: make([]layerGrads, len(n.Layers)),
		wOut:   make([]float64, len(n.WOut)),
	}
	for li, l := range n.Layers {
		g.layers[li] = layerGrads{
			wx: zeroMatrix(4*l.HiddenSize, l.InputSize),
			wh: zeroMatrix(4*l.HiddenSize, l.HiddenSize),
			b:  make([]float64, 4*l.HiddenSize),
		}
	}
	return g
}

func (g *netGrads) scale(f float64) {
	for li := range g.layers {
		scaleMatrix(g.layers[li].wx, f)
		scaleMatrix(g.layers[li].wh, f)
		scaleVec(g.layers[li].b, f)
	}
	scaleVec(g.wOut, f)
	g.bOut *= f
}

// adamState keeps first and second moment estimates shaped like the network
// gradients.
type adamState struct {
	t    int
	m, v *netGrads
}

const (
	adamBeta1 = 0.9
	adamBeta2 = 0.999
	adamEps   = 1e-8
)

func newAdamState(n *LSTMNetwork) *adamState {
	return &adamState{m: newNetGrads(n), v: newNetGrads(n)}
}

func (a *adamState) step(n *LSTMNetwork, g *netGrads, lr float64) {
	a.t++
	c1 := 1 - math.Pow(adamBeta1, float64(a.t))
	c2 := 1 - math.Pow(adamBeta2, float64(a.t))

	upd := func(param, grad, m, v []float64) {
		for i := range param {
			m[i] = adamBeta1*m[i] + (1-adamBeta1)*grad[i]
			v[i] = adamBeta2*v[i] + (1-adamBeta2)*grad[i]*grad[i]
			param[i] -= lr * (m[i] / c1) / (math.Sqrt(v[i]/c2) + adamEps)
		}
	}

	for li := range n.Layers {
		l := &n.Layers[li]
		for r := range l.Wx {
			upd(l.Wx[r], g.layers[li].wx[r], a.m.layers[li].wx[r], a.v.layers[li].wx[r])
			upd(l.Wh[r], g.layers[li].wh[r], a.m.layers[li].wh[r], a.v.layers[li].wh[r])
		}
		upd(l.B, g.layers[li].b, a.m.layers[li].b, a.v.layers[li].b)
	}
	upd(n.WOut, g.wOut, a.m.wOut, a.v.wOut)

	a.m.bOut = adamBeta1*a.m.bOut + (1-adamBeta1)*g.bOut
	a.v.bOut = adamBeta2*a.v.bOut + (1-adamBeta2)*g.bOut*g.bOut
	n.BOut -= lr * (a.m.bOut / c1) / (math.Sqrt(a.v.bOut/c2) + adamEps)
}

// ---- small vector helpers ----

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

func mulVec(a, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = a[i] * b[i]
	}
	return out
}

func copyMatrix(m [][]float64) [][]float64 {
	out := make([][]float64, len(m))
	for i, row := range m {
		out[i] = append([]float64(nil), row...)
	}
	return out
}

func zeroMatrix(rows, cols int) [][]float64 {
	out := make([][]float64, rows)
	for i := range out {
		out[i] = make([]float64, cols)
	}
	return out
}

func scaleMatrix(m [][]float64, f float64) {
	for _, row := range m {
		scaleVec(row, f)
	}
}

func scaleVec(v []float64, f float64) {
	for i := range v {
		v[i] *= f
	}
}
