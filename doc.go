/*
Package hornetlock detects hornets in a stereo depth camera feed, tracks the
nearest one across frames and steers a laser turret onto it.

Frames flow through three goroutines joined by bounded channels.  The
Acquirer reads the camera and letterboxes each frame into a model tensor,
dropping frames rather than waiting when inference falls behind.  The
Dispatcher batches tensors onto an Accelerator, such as the RKNN backend in
accel/rknn, and forwards results strictly in submission order.  The Engine
pairs every result with the letterbox it was produced with, tracks the
detections, resolves the engaged target to a 3D position from the aligned
depth map and commands the turret.

See example/hornetlock for the command wiring everything together.
*/
package hornetlock
