package shmexchange

// Message is the unit of exchange. It lives in memory shared with foreign
// processes, so it must stay trivially copyable: fixed size, no pointers,
// no embedded ownership.
type Message struct {
	Val uint64
}
