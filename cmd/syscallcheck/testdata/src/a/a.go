package a

const (
	Write = 1
	Read  = 2
	Open  = 3
	Close = 2 // want `syscall number 2 reused: Read and Close both declare 2`
)

const (
	Getpid = 12
	Time   = 13
)
