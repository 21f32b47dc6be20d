package app

// Version is the current telepage release.
const Version = "0.3.1"
