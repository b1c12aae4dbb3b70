package rknn

/*
#include "rknn_api.h"
#include <stdlib.h>
*/
import "C"
import (
	"fmt"
	"os"
	"strings"
	"unsafe"
)

// CoreMask selects which NPU cores a runtime executes on
type CoreMask int

const (
	NPUCoreAuto    CoreMask = C.RKNN_NPU_CORE_AUTO
	NPUCore0       CoreMask = C.RKNN_NPU_CORE_0
	NPUCore1       CoreMask = C.RKNN_NPU_CORE_1
	NPUCore2       CoreMask = C.RKNN_NPU_CORE_2
	NPUCore01      CoreMask = C.RKNN_NPU_CORE_0_1
	NPUCore012     CoreMask = C.RKNN_NPU_CORE_0_1_2
	NPUSkipSetCore CoreMask = 9999
)

// npuCores lists the individually addressable NPU cores per platform.
// Platforms with a single core do not support rknn_set_core_mask.
var npuCores = map[string][]CoreMask{
	"rk3588": {NPUCore0, NPUCore1, NPUCore2},
	"rk3582": {NPUCore0, NPUCore1, NPUCore2},
	"rk3576": {NPUCore0, NPUCore1},
	"rk3568": {NPUSkipSetCore},
	"rk3566": {NPUSkipSetCore},
	"rk3562": {NPUSkipSetCore},
}

// PlatformCores returns the NPU cores runtimes are pinned to in turn for
// the named platform
func PlatformCores(platform string) ([]CoreMask, error) {

	cores, ok := npuCores[strings.ToLower(strings.TrimSpace(platform))]

	if !ok {
		return nil, fmt.Errorf("unknown platform: %s", platform)
	}

	return cores, nil
}

// ErrorCodes are the return values of the C API
type ErrorCodes int

const (
	Success              ErrorCodes = C.RKNN_SUCC
	ErrFail              ErrorCodes = C.RKNN_ERR_FAIL
	ErrTimeout           ErrorCodes = C.RKNN_ERR_TIMEOUT
	ErrDeviceUnavailable ErrorCodes = C.RKNN_ERR_DEVICE_UNAVAILABLE
	ErrMallocFail        ErrorCodes = C.RKNN_ERR_MALLOC_FAIL
	ErrParamInvalid      ErrorCodes = C.RKNN_ERR_PARAM_INVALID
	ErrModelInvalid      ErrorCodes = C.RKNN_ERR_MODEL_INVALID
	ErrCtxInvalid        ErrorCodes = C.RKNN_ERR_CTX_INVALID
	ErrInputInvalid      ErrorCodes = C.RKNN_ERR_INPUT_INVALID
	ErrOutputInvalid     ErrorCodes = C.RKNN_ERR_OUTPUT_INVALID
	ErrDeviceMismatch    ErrorCodes = C.RKNN_ERR_DEVICE_UNMATCH
	ErrPlatformMismatch  ErrorCodes = C.RKNN_ERR_TARGET_PLATFORM_UNMATCH
)

// String returns a readable description of the error code
func (e ErrorCodes) String() string {
	switch e {
	case Success:
		return "execution successful"
	case ErrFail:
		return "execution failed"
	case ErrTimeout:
		return "execution timed out"
	case ErrDeviceUnavailable:
		return "device is unavailable"
	case ErrMallocFail:
		return "C memory allocation failed"
	case ErrParamInvalid:
		return "parameter is invalid"
	case ErrModelInvalid:
		return "model file is invalid"
	case ErrCtxInvalid:
		return "context is invalid"
	case ErrInputInvalid:
		return "input is invalid"
	case ErrOutputInvalid:
		return "output is invalid"
	case ErrDeviceMismatch:
		return "device mismatch, update rknn sdk and npu driver/firmware"
	case ErrPlatformMismatch:
		return "model target platform is not compatible with the current platform"
	default:
		return fmt.Sprintf("unknown error code %d", e)
	}
}

// callErr formats a failed C call
func callErr(call string, ret C.int) error {
	return fmt.Errorf("%s failed with code %d, error: %s",
		call, int(ret), ErrorCodes(ret).String())
}

// Runtime is a model loaded into an RKNN context
type Runtime struct {
	// ctx is the C runtime context
	ctx C.rknn_context
	// ioNum caches the number of model input and output tensors
	ioNum IONumber
	// inputAttrs and outputAttrs cache the model tensor attributes
	inputAttrs  []TensorAttr
	outputAttrs []TensorAttr
}

// NewRuntime loads the RKNN compiled model file and pins it to the given
// NPU core
func NewRuntime(modelFile string, core CoreMask) (*Runtime, error) {

	r := &Runtime{}

	if err := r.init(modelFile); err != nil {
		return nil, err
	}

	// set_core_mask is only supported on multi core NPUs
	if core != NPUSkipSetCore {
		ret := C.rknn_set_core_mask(r.ctx, C.rknn_core_mask(core))

		if ret != C.RKNN_SUCC {
			r.Close()
			return nil, callErr("C.rknn_set_core_mask", ret)
		}
	}

	var err error

	if r.ioNum, err = r.queryIONumber(); err == nil {
		r.inputAttrs, err = r.queryTensors(C.RKNN_QUERY_INPUT_ATTR, r.ioNum.NumberInput)
	}

	if err == nil {
		r.outputAttrs, err = r.queryTensors(C.RKNN_QUERY_OUTPUT_ATTR, r.ioNum.NumberOutput)
	}

	if err != nil {
		r.Close()
		return nil, err
	}

	return r, nil
}

// init wraps C.rknn_init
func (r *Runtime) init(modelFile string) error {

	info, err := os.Stat(modelFile)

	if err != nil {
		return fmt.Errorf("model file does not exist at %s, error: %w",
			modelFile, err)
	}

	if info.IsDir() {
		return fmt.Errorf("model file %s is a directory", modelFile)
	}

	cModelFile := C.CString(modelFile)
	defer C.free(unsafe.Pointer(cModelFile))

	ret := C.rknn_init(&r.ctx, unsafe.Pointer(cModelFile), 0, 0, nil)

	if ret != C.RKNN_SUCC {
		return callErr("C.rknn_init", ret)
	}

	return nil
}

// Close unloads the model and releases the C context
func (r *Runtime) Close() error {

	ret := C.rknn_destroy(r.ctx)

	if ret != C.RKNN_SUCC {
		return callErr("C.rknn_destroy", ret)
	}

	return nil
}

// SDKVersion holds the RKNN API and driver versions
type SDKVersion struct {
	DriverVersion string
	APIVersion    string
}

// SDKVersion queries the RKNN API and driver versions
func (r *Runtime) SDKVersion() (SDKVersion, error) {

	var cSdkVer C.rknn_sdk_version

	ret := C.rknn_query(r.ctx, C.RKNN_QUERY_SDK_VERSION,
		unsafe.Pointer(&cSdkVer), C.uint(C.sizeof_rknn_sdk_version))

	if ret != C.RKNN_SUCC {
		return SDKVersion{}, callErr("C.rknn_query RKNN_QUERY_SDK_VERSION", ret)
	}

	return SDKVersion{
		DriverVersion: C.GoString(&(cSdkVer.drv_version[0])),
		APIVersion:    C.GoString(&(cSdkVer.api_version[0])),
	}, nil
}

// InputAttrs returns the model input tensor attributes
func (r *Runtime) InputAttrs() []TensorAttr {
	return r.inputAttrs
}

// OutputAttrs returns the model output tensor attributes
func (r *Runtime) OutputAttrs() []TensorAttr {
	return r.outputAttrs
}
