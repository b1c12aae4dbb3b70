package postprocess

// QuantTensor is a single int8 quantized output tensor in NCHW layout with
// a batch of one
type QuantTensor struct {
	// Data is the raw quantized buffer of length C*H*W
	Data []int8
	// ZP is the zero point used to dequantize Data
	ZP int32
	// Scale is the scale used to dequantize Data
	Scale float32
	// C, H, W are the channel and grid dimensions
	C int
	H int
	W int
}

// YOLOv8Branch groups the output tensors of one detection head stride
type YOLOv8Branch struct {
	// Box holds the 4*dflLen distribution logits per grid cell
	Box QuantTensor
	// Score holds one quantized confidence per class per grid cell
	Score QuantTensor
	// ScoreSum is an optional per cell sum of class scores used for fast
	// rejection, nil when the model was exported with two outputs per branch
	ScoreSum *QuantTensor
}

// YOLOv8 defines the struct for YOLOv8 model inference post processing
type YOLOv8 struct {
	// Params are the Model configuration parameters
	Params YOLOv8Params
	// idGen provides the next number for each detection result ID
	idGen *IDGenerator
}

// YOLOv8Params defines the struct containing the YOLOv8 parameters to use
// for post processing operations
type YOLOv8Params struct {
	// BoxThreshold is the minimum probability score required for a bounding box
	// region to be considered for processing
	BoxThreshold float32
	// NMSThreshold is the Non-Maximum Suppression threshold used for defining
	// the maximum allowed Intersection Over Union (IoU) between two
	// bounding boxes for both to be kept
	NMSThreshold float32
	// ObjectClassNum is the number of different object classes the Model has
	// been trained with
	ObjectClassNum int
	// MaxObjectNumber is the maximum number of objects detected that can be
	// returned
	MaxObjectNumber int
}

// YOLOv8HornetParams returns parameters for the two class hornet/wasp model:
// - Object Classes: 2
// - Box Threshold: 0.15
// - NMS Threshold: 0.45
// - Maximum Object Number: 64
func YOLOv8HornetParams() YOLOv8Params {
	return YOLOv8Params{
		BoxThreshold:    0.15,
		NMSThreshold:    0.45,
		ObjectClassNum:  2,
		MaxObjectNumber: 64,
	}
}

// NewYOLOv8 returns an instance of the YOLOv8 post processor
func NewYOLOv8(p YOLOv8Params) *YOLOv8 {
	return &YOLOv8{
		Params: p,
		idGen:  NewIDGenerator(),
	}
}

// candidates collects decoded boxes prior to NMS
type candidates struct {
	boxes   []Box
	probs   []float32
	classID []int
}

// Decode runs the detection head decode over every branch and returns the
// surviving detections.  Boxes are in model input space clamped to
// inputW x inputH, callers map them to the source frame with Remap.
func (y *YOLOv8) Decode(branches []YOLOv8Branch, inputW, inputH int) []DetectResult {

	data := &candidates{}

	for _, br := range branches {

		if br.Box.H == 0 || br.Box.C < 4 {
			continue
		}

		stride := inputH / br.Box.H
		dflLen := br.Box.C / 4

		y.processStride(br, stride, dflLen, data)
	}

	if len(data.probs) == 0 {
		// no object detected
		return nil
	}

	order := sortByScore(data.probs)
	nms(data.boxes, data.classID, order, y.Params.NMSThreshold)

	w := float32(inputW)
	h := float32(inputH)

	group := make([]DetectResult, 0)

	for _, n := range order {
		if n == -1 || len(group) >= y.Params.MaxObjectNumber {
			continue
		}

		b := data.boxes[n]

		group = append(group, DetectResult{
			Box: Box{
				X1: clamp(b.X1, 0, w),
				Y1: clamp(b.Y1, 0, h),
				X2: clamp(b.X2, 0, w),
				Y2: clamp(b.Y2, 0, h),
			},
			Probability: data.probs[n],
			Class:       data.classID[n],
			ID:          y.idGen.GetNext(),
		})
	}

	return group
}

// processStride decodes the grid cells of a single branch
func (y *YOLOv8) processStride(br YOLOv8Branch, stride int, dflLen int,
	data *candidates) {

	gridH := br.Box.H
	gridW := br.Box.W
	gridLen := gridH * gridW

	score := br.Score
	scoreThresI8 := qntF32ToAffine(y.Params.BoxThreshold, score.ZP, score.Scale)

	var scoreSumThresI8 int8
	if br.ScoreSum != nil {
		scoreSumThresI8 = qntF32ToAffine(y.Params.BoxThreshold, br.ScoreSum.ZP, br.ScoreSum.Scale)
	}

	classes := y.Params.ObjectClassNum
	if score.C > 0 && score.C < classes {
		classes = score.C
	}

	beforeDFL := make([]float32, 4*dflLen)

	for i := 0; i < gridH; i++ {
		for j := 0; j < gridW; j++ {

			offset := i*gridW + j
			maxClassID := -1

			// quick filtering using score sum
			if br.ScoreSum != nil && br.ScoreSum.Data[offset] < scoreSumThresI8 {
				continue
			}

			maxScore := int8(-score.ZP)

			for c := 0; c < classes; c++ {
				if score.Data[offset] > scoreThresI8 && score.Data[offset] > maxScore {
					maxScore = score.Data[offset]
					maxClassID = c
				}
				offset += gridLen
			}

			if maxClassID == -1 {
				continue
			}

			offset = i*gridW + j

			for k := 0; k < dflLen*4; k++ {
				beforeDFL[k] = deqntAffineToF32(br.Box.Data[offset], br.Box.ZP, br.Box.Scale)
				offset += gridLen
			}

			box := computeDFL(beforeDFL, dflLen)

			data.boxes = append(data.boxes, Box{
				X1: (-box[0] + float32(j) + 0.5) * float32(stride),
				Y1: (-box[1] + float32(i) + 0.5) * float32(stride),
				X2: (box[2] + float32(j) + 0.5) * float32(stride),
				Y2: (box[3] + float32(i) + 0.5) * float32(stride),
			})
			data.probs = append(data.probs, deqntAffineToF32(maxScore, score.ZP, score.Scale))
			data.classID = append(data.classID, maxClassID)
		}
	}
}
