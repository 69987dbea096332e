package loopmix

// Version is the current loopmix version
const Version = "0.4.1"
