// Package network moves point-cloud frames and poses between the pipelines
// and the outside world: a UDP datagram listener, a PCAP replay source and
// a UDP forwarder for the dynamic cloud.
package network
