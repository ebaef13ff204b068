package campaign

// Names of the files the sanity scenario writes into the archive working
// directory.
const (
	sanitySourceName = "crete_sanity_test.cpp"
	sanityBinaryName = "harness"
)

// dispatchConfigTemplate is written to crete.dispatch.xml when the working
// root has none.
const dispatchConfigTemplate = `<crete>
	<mode>distributed</mode>
	<vm>
		<image>
			<path>/opt/crete/images/ubuntu-14-x64.img</path>
			<update>true</update>
		</image>
		<arch>x64</arch>
		<snapshot>sudo_test</snapshot>
		<args>-m 512 -nographic -L /opt/crete/etc/pc-bios</args>
	</vm>
	<svm>
		<args>
			<symbolic>
				--max-memory=1000
				--disable-inlining
				--use-forked-solver
				--max-sym-array-size=4096
				--max-instruction-time=10.
				--max-time=360.
				-randomize-fork=false
				-search=dfs
			</symbolic>
		</args>
	</svm>
	<profile>
		<interval>1000</interval>
	</profile>
</crete>
`

// sanitySource reads one byte and branches three ways on it, so a working
// installation generates exactly four test cases.
const sanitySource = `#include <iostream>
#include <fstream>

int main( int argc, char* argv[] )
{
    if( argc != 2 )
    {
        std::cerr << "missing arg[1] == filename" << std::endl;
        return 1;
    }

    std::ifstream ifs( argv[1] );

    if( !ifs.good() )
    {
        std::cerr << "unable to open: " << argv[1] << std::endl;
        return 1;
    }

    char c;

    ifs >> c;

    if     ( c == 'x' )
        std::cout << "c == " << c << std::endl;
    else if( c == 'y' )
        std::cout << "c == " << c << std::endl;
    else if( c == 'z' )
        std::cout << "c == " << c << std::endl;

    return 0;
}
`

const sanityGuestConfig = `<crete>
  <exec>/home/test/excite/test/harness</exec>
  <args>
    <arg concolic="false" value="/home/test/excite/test/input.bin" size="" index="1"/>
  </args>
  <files>
    <file concolic="true" size="1" argv_index="1" path="/home/test/excite/test/input.bin"/>
  </files>
</crete>
`
