package main

import (
	"blocksign/internal/signature"
	"blocksign/internal/signkeys"
	"encoding/base64"
	"flag"
	"fmt"
	"log"
	"os"
)

// keygen produces Ed25519-SHA3-512 credentials and signatures compatible
// with the signing service, for registering keys and preparing requests
// by hand.
func main() {
	seedHex := flag.String("seed", "", "private seed in hex; when set together with -payload, signs the payload file")
	payloadPath := flag.String("payload", "", "path to the canonical payload file to sign")
	flag.Parse()

	if *payloadPath != "" {
		if *seedHex == "" {
			log.Fatalln("-payload requires -seed")
		}
		sign(*seedHex, *payloadPath)
		return
	}

	generate()
}

func generate() {
	keys, err := signkeys.GenerateKeys()
	if err != nil {
		log.Fatalln("failed to generate the key pair:", err)
	}

	fmt.Println("private seed:", keys.PrivateSeedHex())
	fmt.Println("public key:  ", keys.PublicKeyHex())
}

func sign(seedHex string, payloadPath string) {
	keys, err := signkeys.FromSeedHex(seedHex)
	if err != nil {
		log.Fatalln("invalid seed:", err)
	}

	payload, err := os.ReadFile(payloadPath)
	if err != nil {
		log.Fatalln("failed to read the payload file:", err)
	}

	sig, err := signature.Sign(keys.PrivateSeed, payload)
	if err != nil {
		log.Fatalln("signing failed:", err)
	}

	fmt.Println("public key:", keys.PublicKeyHex())
	fmt.Println("signature: ", base64.StdEncoding.EncodeToString(sig))
}
