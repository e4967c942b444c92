// Package parser turns provisioning script output into structured fields.
//
// Output contract (versionless, tolerant):
//
// The preferred form is one of
//
//	VM_NAME=alice_my-vm
//	IP=10.0.0.12
//	SSH_PORT=2222
//	VNC_PORT=5901
//
// or a single JSON object carrying the same information:
//
//	{"vm_name": "alice_my-vm", "ip": "10.0.0.12", "ssh_port": 2222, "vnc_port": 5901}
//
// Scripts that print free text are still understood: labeled lines such as
// "SSH: ssh dev@10.0.0.12 -p 2222" or "VNC: 10.0.0.12:5901", and the first
// IPv4 address anywhere in the text. Everything else is kept as a summary
// (the last non-blank line).
//
// A status invocation reports liveness by printing the word "active";
// "not active" or "inactive" anywhere in the output negates it.
//
// Parse never fails. An empty or unrecognisable blob yields empty fields and
// FallbackSummary.
package parser
