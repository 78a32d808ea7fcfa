package fiberrt

// noCopy flags values that must not be copied after first use. go
// vet's copylocks check picks it up through the Lock and Unlock
// methods.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}
