// Package ospf2 implements the OSPFv2 (OSPF for IPv4) wire protocol as
// described in RFC 2328: packet and link-state advertisement encoding,
// checksums, and a raw IP transport for sending and receiving packets over a
// network interface.
package ospf2
