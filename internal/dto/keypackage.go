package dto

import "time"

type KeyPackage struct {
	Data       []byte    `json:"data"`
	Hash       string    `json:"hash"`
	NotBefore  time.Time `json:"notBefore"`
	NotAfter   time.Time `json:"notAfter"`
	LastResort bool      `json:"lastResort"`
}

type PublishKeyPackagesRequest struct {
	KeyPackages []KeyPackage `json:"keyPackages"`
}

type PublishKeyPackageRequest struct {
	KeyPackage
}

type PublishKeyPackagesResponse struct {
	DeviceID string `json:"deviceId"`
	Stored   int    `json:"stored"`
}

type FetchedKeyPackage struct {
	ID         string `json:"id"`
	UserID     string `json:"userId"`
	DeviceID   string `json:"deviceId"`
	Data       []byte `json:"data"`
	Hash       string `json:"hash"`
	LastResort bool   `json:"lastResort"`
}

type FetchKeyPackagesResponse struct {
	KeyPackages []FetchedKeyPackage `json:"keyPackages"`
}

type KeyPackageCountResponse struct {
	Total    int64            `json:"total"`
	ByDevice map[string]int64 `json:"byDevice"`
}
