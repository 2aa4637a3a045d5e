// rdswitch - start and stop RDS instances that opted in with a tag.
package main

import "os"

func main() {
	// Inside the Lambda runtime the binary is started without arguments.
	if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" && len(os.Args) == 1 {
		os.Args = append(os.Args, "lambda")
	}
	Execute()
}
