// Package radio defines the Bluetooth Low Energy collaborator consumed by the
// secure byte-stream transport.
//
// It contains:
//   - the radio abstraction (Adapter, Link, Service, Characteristic) that each
//     backend implements on top of a platform BLE stack
//   - peer identity parsing (MAC address or platform GUID)
//   - the transport error taxonomy shared by backends, the transport and the CLI
//   - the fixed GATT identifiers of the XBee/ConnectCore BLE serial service
package radio
