/*
Package aurora provides the data model and resource bookkeeping for placing
tenant slices onto a pool of physical hosts.

Aurora deploys "slices": sets of virtual machines, virtual routers and the
virtual links between them. Placement decides which host each device runs
on; the link provisioner turns each link into a local bridge attachment or a
controller-programmed path of flow rules; the optimizer later migrates
machines to keep the pool balanced, compact or network-close.

Data Model

A Host is a physical machine with a number of cores, memory in KB and a
provisioning bridge attached to a switch port.

A VirtualMachine and a VirtualRouter are VirtualDevices. Either may be
unplaced (no host) or placed on exactly one host. Machines request vcpus and
memory; routers only need a bridge.

A VirtualInterface belongs to one device. A VirtualLink joins two
interfaces and records the switch hops it was established over so it can be
torn down symmetrically.

A Slice groups devices and links and names the programs used to deploy and
optimize it.

The Inventory derives each host's residual capacity from the requests of the
machines placed on it and serializes changes to those placements per host.
*/
package aurora
