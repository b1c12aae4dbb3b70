package rknn

/*
#include "rknn_api.h"
#include <stdlib.h>
*/
import "C"
import (
	"fmt"
	"strings"
	"unsafe"
)

// TensorFormat wraps C.rknn_tensor_format
type TensorFormat int

const (
	TensorNCHW      TensorFormat = C.RKNN_TENSOR_NCHW
	TensorNHWC      TensorFormat = C.RKNN_TENSOR_NHWC
	TensorNC1HWC2   TensorFormat = C.RKNN_TENSOR_NC1HWC2
	TensorUndefined TensorFormat = C.RKNN_TENSOR_UNDEFINED
)

// TensorType wraps C.rknn_tensor_type
type TensorType int

const (
	TensorFloat32 TensorType = C.RKNN_TENSOR_FLOAT32
	TensorFloat16 TensorType = C.RKNN_TENSOR_FLOAT16
	TensorInt8    TensorType = C.RKNN_TENSOR_INT8
	TensorUint8   TensorType = C.RKNN_TENSOR_UINT8
)

// TensorQntType wraps C.rknn_tensor_qnt_type
type TensorQntType int

const (
	TensorQntNone   TensorQntType = C.RKNN_TENSOR_QNT_NONE
	TensorQntDFP    TensorQntType = C.RKNN_TENSOR_QNT_DFP
	TensorQntAffine TensorQntType = C.RKNN_TENSOR_QNT_AFFINE_ASYMMETRIC
)

const (
	maxDims    = C.RKNN_MAX_DIMS
	maxNameLen = C.RKNN_MAX_NAME_LEN
)

// TensorAttr is the subset of C.rknn_tensor_attr the backend reads
type TensorAttr struct {
	Index   uint32
	NDims   uint32
	Dims    [maxDims]uint32
	Name    string
	NElems  uint32
	Size    uint32
	Fmt     TensorFormat
	Type    TensorType
	QntType TensorQntType
	ZP      int32
	Scale   float32
}

// Batch returns the leading (batch) dimension
func (a TensorAttr) Batch() int {
	return int(a.Dims[0])
}

// CHW returns the channel and grid dimensions of an NCHW tensor
func (a TensorAttr) CHW() (c, h, w int) {
	return int(a.Dims[1]), int(a.Dims[2]), int(a.Dims[3])
}

// PerImage is the number of elements one batch entry occupies
func (a TensorAttr) PerImage() int {

	if a.Dims[0] == 0 {
		return int(a.NElems)
	}

	return int(a.NElems / a.Dims[0])
}

// String returns the attributes in a human readable form
func (a TensorAttr) String() string {
	return fmt.Sprintf("index=%d, name=%s, n_dims=%d, "+
		"dims=[%d, %d, %d, %d], n_elems=%d, size=%d, fmt=%s, type=%s, "+
		"qnt_type=%s, zp=%d, scale=%f",
		a.Index, a.Name, a.NDims, a.Dims[0], a.Dims[1], a.Dims[2], a.Dims[3],
		a.NElems, a.Size, a.Fmt, a.Type, a.QntType, a.ZP, a.Scale,
	)
}

func convertTensorAttr(cAttr *C.rknn_tensor_attr) TensorAttr {

	name := string(C.GoBytes(unsafe.Pointer(&cAttr.name[0]), C.int(maxNameLen)))

	if i := strings.IndexByte(name, 0); i != -1 {
		name = name[:i]
	}

	return TensorAttr{
		Index:   uint32(cAttr.index),
		NDims:   uint32(cAttr.n_dims),
		Dims:    *(*[maxDims]uint32)(unsafe.Pointer(&cAttr.dims)),
		Name:    name,
		NElems:  uint32(cAttr.n_elems),
		Size:    uint32(cAttr.size),
		Fmt:     TensorFormat(cAttr.fmt),
		Type:    TensorType(cAttr._type),
		QntType: TensorQntType(cAttr.qnt_type),
		ZP:      int32(cAttr.zp),
		Scale:   float32(cAttr.scale),
	}
}

func (t TensorType) String() string {
	switch t {
	case TensorFloat32:
		return "FP32"
	case TensorFloat16:
		return "FP16"
	case TensorInt8:
		return "INT8"
	case TensorUint8:
		return "UINT8"
	default:
		return fmt.Sprintf("TYPE(%d)", int(t))
	}
}

func (t TensorQntType) String() string {
	switch t {
	case TensorQntNone:
		return "NONE"
	case TensorQntDFP:
		return "DFP"
	case TensorQntAffine:
		return "AFFINE"
	default:
		return "UNKNOWN"
	}
}

func (t TensorFormat) String() string {
	switch t {
	case TensorNCHW:
		return "NCHW"
	case TensorNHWC:
		return "NHWC"
	case TensorNC1HWC2:
		return "NC1HWC2"
	case TensorUndefined:
		return "UNDEFINED"
	default:
		return "UNKNOWN"
	}
}
