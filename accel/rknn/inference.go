package rknn

/*
#include "rknn_api.h"
#include <stdlib.h>
#include <string.h>
*/
import "C"
import (
	"fmt"
	"sync"
	"unsafe"

	"gocv.io/x/gocv"
)

// InputSize returns the model input width, height and channels
func (r *Runtime) InputSize() (width, height, channels int) {

	dims := r.inputAttrs[0].Dims

	if r.inputAttrs[0].Fmt == TensorNHWC {
		return int(dims[2]), int(dims[1]), int(dims[3])
	}

	return int(dims[3]), int(dims[2]), int(dims[1])
}

// Inference runs the model on an NHWC uint8 input.  For batch models img
// holds every batch entry concatenated, see Batch.
func (r *Runtime) Inference(img gocv.Mat) (*Outputs, error) {

	if !img.IsContinuous() {
		img = img.Clone()
		defer img.Close()
	}

	data, err := img.DataPtrUint8()

	if err != nil {
		return nil, fmt.Errorf("error getting data pointer to Mat: %w", err)
	}

	if len(data) == 0 {
		return nil, fmt.Errorf("empty input tensor")
	}

	in := C.rknn_input{
		index:        0,
		buf:          unsafe.Pointer(&data[0]),
		size:         C.uint32_t(len(data)),
		pass_through: 0,
		_type:        C.rknn_tensor_type(TensorUint8),
		fmt:          C.rknn_tensor_format(TensorNHWC),
	}

	if ret := C.rknn_inputs_set(r.ctx, 1, &in); ret != C.RKNN_SUCC {
		return nil, callErr("C.rknn_inputs_set", ret)
	}

	if ret := C.rknn_run(r.ctx, nil); ret < 0 {
		return nil, callErr("C.rknn_run", ret)
	}

	return r.getOutputs()
}

// Output is one model output tensor in its quantized form
type Output struct {
	Index uint32
	// Int holds the raw buffer of int8 tensors, it points to C memory
	// released by Outputs.Free
	Int []int8
	// Float holds fp16 tensors converted to float32
	Float []float32
	Attr  TensorAttr
}

// Outputs holds the C output buffers of one inference run
type Outputs struct {
	Output   []Output
	cOutputs []C.rknn_output
	freed    bool
	sync.Mutex
	rt *Runtime
}

func (r *Runtime) getOutputs() (*Outputs, error) {

	n := r.ioNum.NumberOutput

	outputs := &Outputs{
		Output:   make([]Output, n),
		cOutputs: make([]C.rknn_output, n),
		rt:       r,
	}

	for idx := range outputs.cOutputs {
		outputs.cOutputs[idx].index = C.uint32_t(idx)
		outputs.cOutputs[idx].want_float = 0
	}

	ret := C.rknn_outputs_get(r.ctx, C.uint32_t(n),
		(*C.rknn_output)(unsafe.Pointer(&outputs.cOutputs[0])), nil)

	if ret < 0 {
		return nil, callErr("C.rknn_outputs_get", ret)
	}

	for i, cOut := range outputs.cOutputs {
		out := Output{
			Index: uint32(cOut.index),
			Attr:  r.outputAttrs[i],
		}

		size := int(cOut.size)

		if out.Attr.Type == TensorFloat16 {
			out.Float = float16ToFloat32(unsafe.Slice((*uint16)(cOut.buf), size/2))
		} else {
			out.Int = unsafe.Slice((*int8)(cOut.buf), size)
		}

		outputs.Output[i] = out
	}

	return outputs, nil
}

// Free releases the C output buffers, it is safe to call more than once
func (o *Outputs) Free() error {
	o.Lock()
	defer o.Unlock()

	if o.freed {
		return nil
	}

	o.freed = true

	ret := C.rknn_outputs_release(o.rt.ctx, C.uint32_t(len(o.cOutputs)),
		(*C.rknn_output)(unsafe.Pointer(&o.cOutputs[0])))

	if ret != C.RKNN_SUCC {
		return callErr("C.rknn_outputs_release", ret)
	}

	return nil
}
