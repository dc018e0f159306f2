// Package locoloco is a wireless controller for model locomotive layouts.
//
// The controller is the hub of a small train network: locomotives, RFID
// trackside sensors and switch-rail actuators each hold a TCP connection to
// it and speak a compact binary protocol. The controller tracks where every
// loco is, routes operator commands to devices, and can supervise the whole
// layout autonomously.
//
// # Architecture
//
// Device side:
//   - protocol: binary frame codec and message types shared by all devices
//   - fleet: per-class TCP listeners, registration handshake, session table,
//     heartbeat liveness
//   - tracker: loco position and motion state, inferred from sensor reports
//     against the rail topology
//   - router: command dispatch with a single in-flight command per device
//     and acknowledgment tracking
//
// Operator side:
//   - gateway/http: REST API for status, manual control, intents and the
//     supervision mode
//   - gateway/ws: websocket stream pushing layout snapshots on change
//   - oracle: autonomous supervisor that plans routes from loco intents,
//     arbitrates conflicting segments and drives switches and locos
//
// Supporting packages:
//   - topology: the rail layout model (checkpoints, segments, switch rails,
//     conflict sets)
//   - events: optional NATS publisher for controller events
//   - component, health, metric, errors, config: lifecycle management,
//     health reporting, prometheus metrics, error classification and
//     configuration
//
// The cmd/locoloco binary wires everything together.
package locoloco
