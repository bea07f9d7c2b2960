// Package cachecore holds the small set of types shared by the compressed
// repository, its stores and optional driver packages: the byte-level Store
// contract, driver names and compression settings.
package cachecore
