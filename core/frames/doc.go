// Package frames defines the typed frame contract shared by every
// pipeline stage.
//
// Frames split into three arms:
//
//   - System: expedited frames that bypass queues, buffers and filters
//     (Start, Cancel, interruption markers, speaking transitions,
//     parameter updates, errors).
//   - Control: ordered lifecycle markers that travel with the data
//     stream (End, Heartbeat).
//   - Data: payload carriers (audio, text, transcriptions, images,
//     prompts, function calls).
//
// Every frame embeds Base, which records a process-wide monotonic id in
// creation order plus a uuid. The id exists for ordering checks and
// debugging; the uuid for correlation across process boundaries.
//
// Semantics used across the package:
//
//   - Input/Output audio: which side of a transport the audio belongs
//     to, not its direction of travel.
//   - Interim: mutable point-in-time snapshot later frames may revise.
//   - Emulate: replay a speaking transition without a classifier edge.
package frames
