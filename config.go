package shmexchange

// NumProcesses is the number of participating processes, fixed at build time.
// Every process owns one reader bit in each slot's 32-bit state word, and the
// highest bit is reserved for the writer, so at most 31 processes fit.
const NumProcesses = 3

// Fails to build when NumProcesses exceeds the 31 reader bits available.
const _ uint = 31 - NumProcesses

// SlotCount is the container's slot array length. With at most NumProcesses-1
// readers each pinning one slot plus one slot holding the current message,
// NumProcesses+1 slots guarantee the writer always finds a free one.
const SlotCount = NumProcesses + 1

// SharedNamePrefix prefixes the shared region name of each producing process;
// the full name is the prefix followed by the decimal process index.
const SharedNamePrefix = "shared_memory"
