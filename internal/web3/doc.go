// Package web3 describes chain access for the onchain pipeline: tracked token
// definitions, decoded ERC-20 Transfer events and the client contract used to
// scan or watch them. The go-ethereum implementation lives in web3/ethereum.
package web3
